package factory

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
)

// Config is the top-level configuration loaded from config/ntncfg.yaml.
type Config struct {
	Info         InfoSection         `yaml:"info"`
	E2           E2Section           `yaml:"e2"`
	Geometry     GeometrySection     `yaml:"geometry"`
	Reporting    ReportingSection    `yaml:"reporting"`
	PowerControl PowerControlSection `yaml:"powerControl"`
	Handover     HandoverSection     `yaml:"handover"`
	Performance  PerformanceSection  `yaml:"performance"`
	Control      ControlSection      `yaml:"control"`
	Southbound   SouthboundSection   `yaml:"southbound"`
	Northbound   NorthboundSection   `yaml:"northbound"`
	Metrics      MetricsSection      `yaml:"metrics"`
	Satellites   []SatelliteTLE      `yaml:"satellites"`
	Storage      StorageSection      `yaml:"storage"`
	Logging      LoggingSection      `yaml:"logging"`
}

// ---------- info ----------

type InfoSection struct {
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// ---------- e2 (NTN function → RIC) ----------

type E2Section struct {
	RANFunctionID uint16 `yaml:"ranFunctionId"` // catalog value identifying E2SM-NTN
	Format        string `yaml:"format"`        // "per" | "json", outbound indications
	// IndicationURL receives encoded indications; empty keeps them local
	// (archive and logs only).
	IndicationURL    string `yaml:"indicationUrl,omitempty"`
	QueueSize        int    `yaml:"queueSize"`
	RequestTimeoutMs int    `yaml:"requestTimeoutMs"`
}

// ---------- geometry ----------

type GeometrySection struct {
	MinElevationDeg         float64 `yaml:"minElevationDeg"`
	CarrierFrequencyHz      float64 `yaml:"carrierFrequencyHz"`
	BandwidthHz             float64 `yaml:"bandwidthHz"`
	TxAntennaGainDbi        float64 `yaml:"txAntennaGainDbi"`
	RxAntennaGainDbi        float64 `yaml:"rxAntennaGainDbi"`
	NoiseFigureDb           float64 `yaml:"noiseFigureDb"`
	ZenithAtmosphericLossDb float64 `yaml:"zenithAtmosphericLossDb"`
}

// ---------- reporting ----------

type ReportingSection struct {
	PeriodMs       int `yaml:"periodMs"`       // default periodic interval
	TickIntervalMs int `yaml:"tickIntervalMs"` // scheduler resolution
	IdleTimeoutSec int `yaml:"idleTimeoutSec"`
	HistorySize    int `yaml:"historySize"`

	// EndedRetentionSec keeps ended subscriptions queryable this long.
	EndedRetentionSec int `yaml:"endedRetentionSec"`

	// Threshold event trigger.
	HandoverElevationDeg float64 `yaml:"handoverElevationDeg"`
	ImminentHandoverSec  float64 `yaml:"imminentHandoverSec"`
	LowMarginEventDb     float64 `yaml:"lowMarginEventDb"`
}

// ---------- power control ----------

type PowerControlSection struct {
	LowMarginDb  float64 `yaml:"lowMarginDb"`
	HighMarginDb float64 `yaml:"highMarginDb"`
	MaxStepDb    float64 `yaml:"maxStepDb"`
	CeilingDbm   float64 `yaml:"ceilingDbm"`
	FloorDbm     float64 `yaml:"floorDbm"`
}

// ---------- handover ----------

type HandoverSection struct {
	ProbabilityMidpointSec  float64 `yaml:"probabilityMidpointSec"`
	ProbabilitySteepnessSec float64 `yaml:"probabilitySteepnessSec"`
}

// ---------- performance estimation ----------

type PerformanceSection struct {
	ProcessingDelayMs     float64 `yaml:"processingDelayMs"`
	UplinkThroughputRatio float64 `yaml:"uplinkThroughputRatio"`
}

// ---------- control ----------

type ControlSection struct {
	AllowedActions       []string `yaml:"allowedActions"` // e.g. SET_POWER, SWITCH_BEAM
	MinTxPowerDbm        float64  `yaml:"minTxPowerDbm"`
	MaxTxPowerDbm        float64  `yaml:"maxTxPowerDbm"`
	MaxRampDurationMs    uint32   `yaml:"maxRampDurationMs"`
	MaxExecutionDelayMs  uint32   `yaml:"maxExecutionDelayMs"`
	MaxFrequencyOffsetHz float64  `yaml:"maxFrequencyOffsetHz"`
	MaxDopplerRateHzS    float64  `yaml:"maxDopplerRateHzS"`
	MaxBeamID            int      `yaml:"maxBeamId"`
	MaxPriority          int      `yaml:"maxPriority"`
}

// ---------- southbound (measurement source → NTN function) ----------

type SouthboundSection struct {
	ListenAddr   string `yaml:"listenAddr"` // e.g. "0.0.0.0:8088"
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
}

// ---------- northbound (xApp-facing subscription API) ----------

type NorthboundSection struct {
	ListenAddr string `yaml:"listenAddr"` // e.g. "0.0.0.0:8090"
}

// ---------- metrics ----------

type MetricsSection struct {
	Enable     bool   `yaml:"enable"`
	ListenAddr string `yaml:"listenAddr"`
	Path       string `yaml:"path"`
}

// ---------- satellites (TLE catalog) ----------

type SatelliteTLE struct {
	ID    string `yaml:"id"`
	Line1 string `yaml:"line1"`
	Line2 string `yaml:"line2"`
}

// ---------- storage (indication archive) ----------

type StorageSection struct {
	Driver   string `yaml:"driver"` // "memory"
	MaxItems int    `yaml:"maxItems,omitempty"`
	TTLSec   int    `yaml:"ttlSec,omitempty"`
}

// ---------- logging ----------

type LoggingSection struct {
	Level        string `yaml:"level"` // "debug" | "info" | "warn" | "error"
	ReportCaller bool   `yaml:"reportCaller"`
}

var (
	supportedFormats   = []string{"per", "json"}
	supportedActions   = []string{"SET_POWER", "TRIGGER_HANDOVER", "COMPENSATE_DOPPLER", "SWITCH_BEAM"}
	supportedLogLevels = []string{"debug", "info", "warn", "error"}
)

// ---------- defaults ----------

func applyDefaults(cfg *Config) {
	// e2
	if cfg.E2.RANFunctionID == 0 {
		cfg.E2.RANFunctionID = 10
	}
	if strings.TrimSpace(cfg.E2.Format) == "" {
		cfg.E2.Format = "per"
	}
	if cfg.E2.QueueSize <= 0 {
		cfg.E2.QueueSize = 1024
	}
	if cfg.E2.RequestTimeoutMs <= 0 {
		cfg.E2.RequestTimeoutMs = 2000
	}
	// geometry
	if cfg.Geometry.MinElevationDeg == 0 {
		cfg.Geometry.MinElevationDeg = 10
	}
	if cfg.Geometry.CarrierFrequencyHz == 0 {
		cfg.Geometry.CarrierFrequencyHz = 2e9
	}
	if cfg.Geometry.BandwidthHz == 0 {
		cfg.Geometry.BandwidthHz = 20e6
	}
	if cfg.Geometry.NoiseFigureDb == 0 {
		cfg.Geometry.NoiseFigureDb = 7
	}
	// reporting
	if cfg.Reporting.PeriodMs <= 0 {
		cfg.Reporting.PeriodMs = 1000
	}
	if cfg.Reporting.TickIntervalMs <= 0 {
		cfg.Reporting.TickIntervalMs = 100
	}
	if cfg.Reporting.IdleTimeoutSec <= 0 {
		cfg.Reporting.IdleTimeoutSec = 30
	}
	if cfg.Reporting.EndedRetentionSec <= 0 {
		cfg.Reporting.EndedRetentionSec = 300
	}
	if cfg.Reporting.HistorySize <= 0 {
		cfg.Reporting.HistorySize = 10
	}
	if cfg.Reporting.HandoverElevationDeg == 0 {
		cfg.Reporting.HandoverElevationDeg = cfg.Geometry.MinElevationDeg + 5
	}
	if cfg.Reporting.ImminentHandoverSec == 0 {
		cfg.Reporting.ImminentHandoverSec = 10
	}
	// power control
	if cfg.PowerControl.LowMarginDb == 0 && cfg.PowerControl.HighMarginDb == 0 {
		cfg.PowerControl.LowMarginDb = 3
		cfg.PowerControl.HighMarginDb = 10
	}
	if cfg.Reporting.LowMarginEventDb == 0 {
		cfg.Reporting.LowMarginEventDb = cfg.PowerControl.LowMarginDb
	}
	if cfg.PowerControl.MaxStepDb == 0 {
		cfg.PowerControl.MaxStepDb = 3
	}
	if cfg.PowerControl.CeilingDbm == 0 {
		cfg.PowerControl.CeilingDbm = 23
	}
	if cfg.PowerControl.FloorDbm == 0 {
		cfg.PowerControl.FloorDbm = -10
	}
	// handover
	if cfg.Handover.ProbabilityMidpointSec == 0 {
		cfg.Handover.ProbabilityMidpointSec = 30
	}
	if cfg.Handover.ProbabilitySteepnessSec == 0 {
		cfg.Handover.ProbabilitySteepnessSec = 6
	}
	// performance
	if cfg.Performance.ProcessingDelayMs == 0 {
		cfg.Performance.ProcessingDelayMs = 4
	}
	if cfg.Performance.UplinkThroughputRatio == 0 {
		cfg.Performance.UplinkThroughputRatio = 0.5
	}
	// control
	if len(cfg.Control.AllowedActions) == 0 {
		cfg.Control.AllowedActions = append([]string(nil), supportedActions...)
	}
	if cfg.Control.MinTxPowerDbm == 0 && cfg.Control.MaxTxPowerDbm == 0 {
		cfg.Control.MinTxPowerDbm = -30
		cfg.Control.MaxTxPowerDbm = 60
	}
	if cfg.Control.MaxRampDurationMs == 0 {
		cfg.Control.MaxRampDurationMs = 60000
	}
	if cfg.Control.MaxExecutionDelayMs == 0 {
		cfg.Control.MaxExecutionDelayMs = 600000
	}
	if cfg.Control.MaxFrequencyOffsetHz == 0 {
		cfg.Control.MaxFrequencyOffsetHz = 1000000
	}
	if cfg.Control.MaxDopplerRateHzS == 0 {
		cfg.Control.MaxDopplerRateHzS = 10000
	}
	if cfg.Control.MaxBeamID == 0 {
		cfg.Control.MaxBeamID = 4095
	}
	if cfg.Control.MaxPriority == 0 {
		cfg.Control.MaxPriority = 255
	}
	// southbound
	if strings.TrimSpace(cfg.Southbound.ListenAddr) == "" {
		cfg.Southbound.ListenAddr = "0.0.0.0:8088"
	}
	if cfg.Southbound.MaxBodyBytes <= 0 {
		cfg.Southbound.MaxBodyBytes = 1 << 20
	}
	// northbound
	if strings.TrimSpace(cfg.Northbound.ListenAddr) == "" {
		cfg.Northbound.ListenAddr = "0.0.0.0:8090"
	}
	// metrics
	if strings.TrimSpace(cfg.Metrics.ListenAddr) == "" {
		cfg.Metrics.ListenAddr = "0.0.0.0:9090"
	}
	if strings.TrimSpace(cfg.Metrics.Path) == "" {
		cfg.Metrics.Path = "/metrics"
	}
	// storage
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.MaxItems < 0 {
		cfg.Storage.MaxItems = 0
	}
	if cfg.Storage.TTLSec < 0 {
		cfg.Storage.TTLSec = 0
	}
	// logging
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// ---------- Validate ----------

func validateConfig(cfg *Config) error {
	// e2
	if !govalidator.IsIn(strings.ToLower(cfg.E2.Format), supportedFormats...) {
		return fmt.Errorf("e2.format unsupported: %q", cfg.E2.Format)
	}
	if cfg.E2.IndicationURL != "" && !govalidator.IsRequestURL(cfg.E2.IndicationURL) {
		return fmt.Errorf("e2.indicationUrl is invalid: %q", cfg.E2.IndicationURL)
	}

	// geometry
	if !govalidator.InRangeFloat64(cfg.Geometry.MinElevationDeg, 0, 90) {
		return fmt.Errorf("geometry.minElevationDeg must be within [0, 90]: %v", cfg.Geometry.MinElevationDeg)
	}
	if cfg.Geometry.CarrierFrequencyHz <= 0 || cfg.Geometry.BandwidthHz <= 0 {
		return fmt.Errorf("geometry.carrierFrequencyHz and geometry.bandwidthHz must be > 0")
	}

	// reporting
	if cfg.Reporting.TickIntervalMs > cfg.Reporting.PeriodMs {
		return fmt.Errorf("reporting.tickIntervalMs (%d) must not exceed reporting.periodMs (%d)",
			cfg.Reporting.TickIntervalMs, cfg.Reporting.PeriodMs)
	}
	if !govalidator.InRangeFloat64(cfg.Reporting.HandoverElevationDeg, 0, 90) {
		return fmt.Errorf("reporting.handoverElevationDeg must be within [0, 90]: %v",
			cfg.Reporting.HandoverElevationDeg)
	}
	if cfg.Reporting.ImminentHandoverSec < 0 {
		return fmt.Errorf("reporting.imminentHandoverSec must be >= 0")
	}

	// power control
	if cfg.PowerControl.LowMarginDb >= cfg.PowerControl.HighMarginDb {
		return fmt.Errorf("powerControl.lowMarginDb (%v) must be below powerControl.highMarginDb (%v)",
			cfg.PowerControl.LowMarginDb, cfg.PowerControl.HighMarginDb)
	}
	if cfg.PowerControl.MaxStepDb <= 0 {
		return fmt.Errorf("powerControl.maxStepDb must be > 0")
	}
	if cfg.PowerControl.FloorDbm >= cfg.PowerControl.CeilingDbm {
		return fmt.Errorf("powerControl.floorDbm must be below powerControl.ceilingDbm")
	}
	if !govalidator.InRangeFloat64(cfg.PowerControl.CeilingDbm, -30, 60) ||
		!govalidator.InRangeFloat64(cfg.PowerControl.FloorDbm, -30, 60) {
		return fmt.Errorf("powerControl ceiling/floor must be within [-30, 60] dBm")
	}

	// handover
	if cfg.Handover.ProbabilityMidpointSec <= 0 || cfg.Handover.ProbabilitySteepnessSec <= 0 {
		return fmt.Errorf("handover.probabilityMidpointSec and handover.probabilitySteepnessSec must be > 0")
	}

	// performance
	if !govalidator.InRangeFloat64(cfg.Performance.UplinkThroughputRatio, 0, 1) {
		return fmt.Errorf("performance.uplinkThroughputRatio must be within [0, 1]")
	}

	// control
	for i, action := range cfg.Control.AllowedActions {
		if !govalidator.IsIn(action, supportedActions...) {
			return fmt.Errorf("control.allowedActions[%d] unsupported: %q", i, action)
		}
	}
	if cfg.Control.MinTxPowerDbm >= cfg.Control.MaxTxPowerDbm ||
		!govalidator.InRangeFloat64(cfg.Control.MinTxPowerDbm, -30, 60) ||
		!govalidator.InRangeFloat64(cfg.Control.MaxTxPowerDbm, -30, 60) {
		return fmt.Errorf("control tx power bounds invalid: [%v, %v]",
			cfg.Control.MinTxPowerDbm, cfg.Control.MaxTxPowerDbm)
	}
	if cfg.Control.MaxRampDurationMs > 60000 || cfg.Control.MaxExecutionDelayMs > 600000 {
		return fmt.Errorf("control ramp/execution delay bounds exceed the wire range")
	}
	if !govalidator.InRangeFloat64(cfg.Control.MaxFrequencyOffsetHz, 0, 1000000) ||
		!govalidator.InRangeFloat64(cfg.Control.MaxDopplerRateHzS, 0, 10000) {
		return fmt.Errorf("control Doppler bounds exceed the wire range")
	}
	if !govalidator.InRangeInt(cfg.Control.MaxBeamID, 0, 4095) ||
		!govalidator.InRangeInt(cfg.Control.MaxPriority, 0, 255) {
		return fmt.Errorf("control beam/priority bounds exceed the wire range")
	}

	// listeners
	if !govalidator.IsDialString(cfg.Southbound.ListenAddr) {
		return fmt.Errorf("southbound.listenAddr is invalid: %q", cfg.Southbound.ListenAddr)
	}
	if !govalidator.IsDialString(cfg.Northbound.ListenAddr) {
		return fmt.Errorf("northbound.listenAddr is invalid: %q", cfg.Northbound.ListenAddr)
	}
	if cfg.Metrics.Enable {
		if !govalidator.IsDialString(cfg.Metrics.ListenAddr) {
			return fmt.Errorf("metrics.listenAddr is invalid: %q", cfg.Metrics.ListenAddr)
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with '/': %q", cfg.Metrics.Path)
		}
	}

	// satellites
	seen := make(map[string]struct{}, len(cfg.Satellites))
	for i, satellite := range cfg.Satellites {
		if strings.TrimSpace(satellite.ID) == "" || !govalidator.IsPrintableASCII(satellite.ID) {
			return fmt.Errorf("satellites[%d].id is empty or not printable", i)
		}
		if _, ok := seen[satellite.ID]; ok {
			return fmt.Errorf("satellites[%d].id duplicated: %q", i, satellite.ID)
		}
		seen[satellite.ID] = struct{}{}
		if !strings.HasPrefix(satellite.Line1, "1 ") || !strings.HasPrefix(satellite.Line2, "2 ") {
			return fmt.Errorf("satellites[%d] (%s) has malformed TLE lines", i, satellite.ID)
		}
	}

	// storage
	if cfg.Storage.Driver != "memory" {
		return fmt.Errorf("storage.driver unsupported: %q", cfg.Storage.Driver)
	}

	// logging
	if !govalidator.IsIn(strings.ToLower(cfg.Logging.Level), supportedLogLevels...) {
		return fmt.Errorf("logging.level unsupported: %q", cfg.Logging.Level)
	}
	return nil
}
