package dispatcher

import (
	"fmt"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

// SubscriptionState is the lifecycle state of one subscription.
//
//	Idle -> Subscribed -> Reporting -> Unsubscribed
type SubscriptionState int

const (
	StateIdle SubscriptionState = iota
	StateSubscribed
	StateReporting
	StateUnsubscribed
)

var subscriptionStateNames = [...]string{"IDLE", "SUBSCRIBED", "REPORTING", "UNSUBSCRIBED"}

func (state SubscriptionState) String() string {
	if state >= 0 && int(state) < len(subscriptionStateNames) {
		return subscriptionStateNames[state]
	}
	return fmt.Sprintf("SubscriptionState(%d)", int(state))
}

// MarshalText implements encoding.TextMarshaler.
func (state SubscriptionState) MarshalText() ([]byte, error) {
	return []byte(state.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (state *SubscriptionState) UnmarshalText(text []byte) error {
	for index, name := range subscriptionStateNames {
		if name == string(text) {
			*state = SubscriptionState(index)
			return nil
		}
	}
	return fmt.Errorf("unknown subscription state %q", text)
}

// Active reports whether the subscription still produces indications.
func (state SubscriptionState) Active() bool {
	return state == StateSubscribed || state == StateReporting
}

// SubscriptionRequest asks for indications. An empty UEID targets every UE.
type SubscriptionRequest struct {
	UEID              string            `json:"ueId,omitempty"`
	EventTriggerStyle EventTriggerStyle `json:"eventTriggerStyle"`
	ReportStyle       ReportStyle       `json:"reportStyle"`
	// PeriodMs is the reporting period. Zero selects the configured default
	// for periodic subscriptions and disables the timer for threshold ones.
	PeriodMs int `json:"periodMs,omitempty"`
}

// SubscriptionInfo is a read-only view of a subscription.
type SubscriptionInfo struct {
	ID        string              `json:"subscriptionId"`
	Request   SubscriptionRequest `json:"request"`
	State     SubscriptionState   `json:"state"`
	CreatedAt time.Time           `json:"createdAt"`
	Reports   uint64              `json:"reports"`
}

type subscription struct {
	id        string
	request   SubscriptionRequest
	period    time.Duration
	createdAt time.Time
	state     SubscriptionState
	reports   uint64
	endedAt   time.Time

	// lastReportAt is keyed by UE ID and shared by the measurement path and
	// the periodic timer path so a UE is never reported twice per period.
	lastReportAt map[string]time.Time
}

func (entry *subscription) targets(ueID string) bool {
	return entry.request.UEID == "" || entry.request.UEID == ueID
}

func (entry *subscription) info() SubscriptionInfo {
	return SubscriptionInfo{
		ID:        entry.id,
		Request:   entry.request,
		State:     entry.state,
		CreatedAt: entry.createdAt,
		Reports:   entry.reports,
	}
}

// validateSubscriptionRequest checks the request and returns the effective
// reporting period.
func validateSubscriptionRequest(request SubscriptionRequest, defaultPeriod time.Duration) (time.Duration, error) {
	if request.UEID != "" {
		if err := model.IdentifierField.Check(request.UEID); err != nil {
			return 0, &model.ValidationError{Field: "ueId", Reason: err.Error()}
		}
	}
	switch request.ReportStyle {
	case ReportFull, ReportMinimal, ReportHandoverOnly:
	default:
		return 0, &model.ValidationError{Field: "reportStyle", Reason: fmt.Sprintf("unsupported report style %d", int(request.ReportStyle))}
	}
	if request.PeriodMs < 0 {
		return 0, &model.ValidationError{Field: "periodMs", Reason: "must be >= 0"}
	}

	period := time.Duration(request.PeriodMs) * time.Millisecond
	switch request.EventTriggerStyle {
	case TriggerPeriodic:
		if period == 0 {
			period = defaultPeriod
		}
		if period <= 0 {
			return 0, &model.ValidationError{Field: "periodMs", Reason: "periodic subscriptions need a period"}
		}
	case TriggerThreshold:
	default:
		return 0, &model.ValidationError{
			Field:  "eventTriggerStyle",
			Reason: fmt.Sprintf("unsupported event trigger style %d", int(request.EventTriggerStyle)),
		}
	}
	return period, nil
}
