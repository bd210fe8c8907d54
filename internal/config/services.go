package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/netwatch/internal/domain"
)

// ServiceConfig is one entry of the services file as written by the user.
// Validation happens in the registry, not here.
type ServiceConfig struct {
	ID                 string                 `yaml:"id"`
	Name               string                 `yaml:"name"`
	Protocol           string                 `yaml:"protocol"`
	Target             string                 `yaml:"target"`
	IntervalSeconds    float64                `yaml:"interval_seconds"`
	TimeoutSeconds     *float64               `yaml:"timeout_seconds"` // nil means the default
	FailureThreshold   int                    `yaml:"failure_threshold"`
	RecoveryThreshold  int                    `yaml:"recovery_threshold"`
	LatencyThresholdMS int                    `yaml:"latency_threshold_ms"`
	Method             string                 `yaml:"method,omitempty"`
	ExpectedStatusMin  int                    `yaml:"expected_status_min,omitempty"`
	ExpectedStatusMax  int                    `yaml:"expected_status_max,omitempty"`
	Assertions         []domain.JSONAssertion `yaml:"assertions,omitempty"`
	ExpectedIP         string                 `yaml:"expected_ip,omitempty"`
	Resolver           string                 `yaml:"resolver,omitempty"`
}

type servicesFile struct {
	Services []ServiceConfig `yaml:"services"`
}

// LoadServices reads the ordered service list from a YAML file. JSON is a
// subset of YAML, so services.json files from older setups load as well.
func LoadServices(path string) ([]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}
	return ParseServices(data)
}

func ParseServices(data []byte) ([]ServiceConfig, error) {
	var f servicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse services file: %w", err)
	}
	return f.Services, nil
}
