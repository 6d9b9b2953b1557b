// Package logger provides structured loggers for the components of the
// E2SM-NTN function. It wraps logrus and exposes category-specific log
// entries such as MainLog, CodecLog, DispatcherLog, etc. The logging level
// and caller reporting can be adjusted at runtime via InitLog.
package logger

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	moduleNameNTN = "NTN"
)

var (
	formatterOnce sync.Once

	// MainLog is the primary logger for high-level lifecycle events
	// (startup, shutdown, major state transitions).
	MainLog = newCategoryLogger("MAIN")

	// CfgLog is used for configuration loading, validation, and printing.
	CfgLog = newCategoryLogger("CFG")

	// GeometryLog is for the link-geometry engine.
	GeometryLog = newCategoryLogger("GEOMETRY")

	// AggregatorLog is for KPM aggregation, handover prediction and power control.
	AggregatorLog = newCategoryLogger("AGGREGATOR")

	// CodecLog is for PER/JSON encoding and decoding.
	CodecLog = newCategoryLogger("CODEC")

	// DispatcherLog is for subscriptions, report styles and control handling.
	DispatcherLog = newCategoryLogger("DISPATCHER")

	// SessionLog is for UE session registration, updates and eviction.
	SessionLog = newCategoryLogger("SESSION")

	// SchedulerLog is for periodic tasks such as report ticks and idle eviction.
	SchedulerLog = newCategoryLogger("SCHEDULER")

	// SouthboundLog is for measurement and control ingress.
	SouthboundLog = newCategoryLogger("SOUTHBOUND")

	// NorthboundLog is for the E2 transport and the subscription API.
	NorthboundLog = newCategoryLogger("NORTHBOUND")

	// EphemerisLog is for TLE catalog loading and propagation.
	EphemerisLog = newCategoryLogger("EPHEMERIS")

	// StorageLog is for the indication archive.
	StorageLog = newCategoryLogger("STORAGE")

	// MetricsLog is for the Prometheus endpoint.
	MetricsLog = newCategoryLogger("METRICS")
)

func newCategoryLogger(category string) *log.Entry {
	return log.WithFields(log.Fields{
		"module":   moduleNameNTN,
		"category": category,
	})
}

// InitLog configures the global logrus settings. The formatter is installed
// once; every call updates the level and the reportCaller flag. An unknown
// level selects info and is reported back.
func InitLog(levelString string, reportCaller bool) error {
	formatterOnce.Do(func() {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	})
	log.SetReportCaller(reportCaller)

	level, err := log.ParseLevel(strings.TrimSpace(levelString))
	if err != nil {
		log.SetLevel(log.InfoLevel)
		CfgLog.Warnf("invalid log level %q, using info", levelString)
		return fmt.Errorf("logger: %w", err)
	}
	log.SetLevel(level)
	return nil
}
