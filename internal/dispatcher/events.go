package dispatcher

import "github.com/free5gc/e2sm-ntn/internal/model"

// Report triggers.
const (
	TriggerNameInitial         = "initial"
	TriggerNamePeriodic        = "periodic"
	EventElevationCrossing     = "elevation_crossing"
	EventHandoverImminent      = "handover_imminent"
	EventLowMargin             = "low_margin"
	EventServingSatelliteShift = "satellite_change"
)

// Thresholds configures the threshold event trigger.
type Thresholds struct {
	// HandoverElevationDeg is the elevation boundary whose crossing, in
	// either direction, raises EventElevationCrossing.
	HandoverElevationDeg float64
	// ImminentHandoverSec raises EventHandoverImminent when the predicted
	// time-to-handover drops to or below it.
	ImminentHandoverSec float64
	// LowMarginDb raises EventLowMargin when the link margin drops below it.
	LowMarginDb float64
}

// detectEvents compares two consecutive records of one UE. No events are
// raised for the first record.
func detectEvents(previous, current *model.NTNIndicationRecord, thresholds Thresholds) []string {
	if previous == nil || current == nil {
		return nil
	}

	var events []string
	if previous.SatelliteID != current.SatelliteID {
		events = append(events, EventServingSatelliteShift)
	}
	if previous.Geometry != nil && current.Geometry != nil {
		wasAbove := previous.Geometry.ElevationDeg >= thresholds.HandoverElevationDeg
		isAbove := current.Geometry.ElevationDeg >= thresholds.HandoverElevationDeg
		if wasAbove != isAbove {
			events = append(events, EventElevationCrossing)
		}
	}
	if current.Handover != nil && current.Handover.TimeToHandoverSec != nil &&
		*current.Handover.TimeToHandoverSec <= thresholds.ImminentHandoverSec {
		wasImminent := previous.Handover != nil && previous.Handover.TimeToHandoverSec != nil &&
			*previous.Handover.TimeToHandoverSec <= thresholds.ImminentHandoverSec
		if !wasImminent {
			events = append(events, EventHandoverImminent)
		}
	}
	if previous.LinkBudget != nil && current.LinkBudget != nil &&
		previous.LinkBudget.LinkMarginDb >= thresholds.LowMarginDb &&
		current.LinkBudget.LinkMarginDb < thresholds.LowMarginDb {
		events = append(events, EventLowMargin)
	}
	return events
}
