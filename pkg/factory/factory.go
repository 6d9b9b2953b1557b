package factory

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// NtnDefaultConfigPath is used when neither -c nor NtnConfigEnv is given.
const NtnDefaultConfigPath = "./config/ntncfg.yaml"

// NtnConfigEnv overrides NtnDefaultConfigPath, e.g. inside a container.
const NtnConfigEnv = "E2SM_NTN_CONFIG"

// DefaultConfigPath returns the configuration path used when the command
// line names none.
func DefaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv(NtnConfigEnv)); path != "" {
		return path
	}
	return NtnDefaultConfigPath
}

// ReadConfig loads the YAML file at path and returns the validated
// configuration with defaults filled in.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cfg, nil
}

// Parse decodes YAML strictly so that misspelt keys fail, then fills the
// defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// Summary renders the settings an operator checks first after start-up as
// key=value pairs.
func (cfg *Config) Summary() string {
	indications := cfg.E2.IndicationURL
	if indications == "" {
		indications = "local"
	}
	fields := []string{
		fmt.Sprintf("ranFunctionId=%d", cfg.E2.RANFunctionID),
		"format=" + cfg.E2.Format,
		"indications=" + indications,
		fmt.Sprintf("periodMs=%d", cfg.Reporting.PeriodMs),
		fmt.Sprintf("satellites=%d", len(cfg.Satellites)),
		"storage=" + cfg.Storage.Driver,
		"southbound=" + cfg.Southbound.ListenAddr,
		"northbound=" + cfg.Northbound.ListenAddr,
	}
	if cfg.Metrics.Enable {
		fields = append(fields, "metrics="+cfg.Metrics.ListenAddr+cfg.Metrics.Path)
	}
	return strings.Join(fields, " ")
}
