package dispatcher

import (
	"fmt"

	"github.com/free5gc/e2sm-ntn/internal/codec"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

// EventTriggerStyle selects when a subscription reports.
type EventTriggerStyle int

const (
	// TriggerPeriodic reports every period.
	TriggerPeriodic EventTriggerStyle = 1
	// TriggerThreshold reports when a monitored value crosses its threshold
	// and, if a period is set, also periodically.
	TriggerThreshold EventTriggerStyle = 2
)

func (style EventTriggerStyle) String() string {
	switch style {
	case TriggerPeriodic:
		return "periodic"
	case TriggerThreshold:
		return "threshold"
	default:
		return fmt.Sprintf("EventTriggerStyle(%d)", int(style))
	}
}

// ReportStyle selects which sections of the indication are sent.
type ReportStyle int

const (
	ReportFull         ReportStyle = 1
	ReportMinimal      ReportStyle = 2
	ReportHandoverOnly ReportStyle = 3
)

func (style ReportStyle) String() string {
	switch style {
	case ReportFull:
		return "full"
	case ReportMinimal:
		return "minimal"
	case ReportHandoverOnly:
		return "handover_only"
	default:
		return fmt.Sprintf("ReportStyle(%d)", int(style))
	}
}

// Project returns a copy of record reduced to the sections of style.
func (style ReportStyle) Project(record *model.NTNIndicationRecord) *model.NTNIndicationRecord {
	projected := record.Clone()
	switch style {
	case ReportMinimal:
		projected.Impairments = nil
		projected.LinkBudget = nil
		projected.Handover = nil
		projected.Performance = nil
		projected.PowerControl = nil
	case ReportHandoverOnly:
		projected.Geometry = nil
		projected.ChannelQuality = nil
		projected.Impairments = nil
		projected.LinkBudget = nil
		projected.Performance = nil
		projected.PowerControl = nil
	}
	return projected
}

// StyleDescription is one entry of a style list in the RAN function
// description.
type StyleDescription struct {
	Type int    `json:"type"`
	Name string `json:"name"`
}

// RANFunctionDescription advertises what this service model supports.
type RANFunctionDescription struct {
	ShortName          string             `json:"shortName"`
	Description        string             `json:"description"`
	RANFunctionID      uint16             `json:"ranFunctionId"`
	Revision           int                `json:"revision"`
	EventTriggerStyles []StyleDescription `json:"eventTriggerStyles"`
	ReportStyles       []StyleDescription `json:"reportStyles"`
	ControlActions     []string           `json:"controlActions"`
	Formats            []string           `json:"formats"`
}

// Catalog builds the RAN function description for the given function ID and
// allowed control actions.
func Catalog(ranFunctionID uint16, allowedActions []model.ActionType) RANFunctionDescription {
	actions := make([]string, 0, len(allowedActions))
	for _, action := range allowedActions {
		actions = append(actions, action.String())
	}
	return RANFunctionDescription{
		ShortName:     "ORAN-E2SM-NTN",
		Description:   "Non-terrestrial network link telemetry and control",
		RANFunctionID: ranFunctionID,
		Revision:      1,
		EventTriggerStyles: []StyleDescription{
			{Type: int(TriggerPeriodic), Name: "Periodic"},
			{Type: int(TriggerThreshold), Name: "Threshold"},
		},
		ReportStyles: []StyleDescription{
			{Type: int(ReportFull), Name: "Full"},
			{Type: int(ReportMinimal), Name: "Minimal"},
			{Type: int(ReportHandoverOnly), Name: "HandoverOnly"},
		},
		ControlActions: actions,
		Formats:        []string{codec.FormatPER.String(), codec.FormatJSON.String()},
	}
}
