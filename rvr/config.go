// Package rvr runs repeated iperf rate-vs-range tests between a device under
// test and a traffic server.
package rvr

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/rvr/host"
	"github.com/yanet-platform/rvr/internal/logging"
	"github.com/yanet-platform/rvr/iperf"
	"github.com/yanet-platform/rvr/parser"
	"github.com/yanet-platform/rvr/settings"
)

// Summary reducers.
const (
	SummaryLast   = "last"
	SummaryMean   = "mean"
	SummaryMedian = "median"
)

type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// ResultLocation is the directory raw, parsed and summary files are
	// written to.
	ResultLocation string `yaml:"result_location"`
	// TestName names the output files of every run.
	TestName    string `yaml:"test_name"`
	Repetitions int    `yaml:"repetitions"`
	// RecoveryTime is waited between consecutive runs.
	RecoveryTime time.Duration `yaml:"recovery_time"`
	// SettleDelay is waited before and after the server is told to stop.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// DUT is the device under test.
	DUT *host.Config `yaml:"dut"`
	// Server is the traffic server.
	Server *host.Config `yaml:"server"`
	// Iperf configures the iperf sessions.
	Iperf IperfConfig `yaml:"iperf"`
}

// IperfConfig is the iperf section.
//
// Keys other than the named fields are iperf long option names and go to the
// client and server settings that know them.
type IperfConfig struct {
	// Direction is "upstream", "downstream" or "both".
	Direction string `yaml:"direction"`
	// Command is the iperf executable.
	Command string `yaml:"command"`
	// Summary is how a run is reduced to one number: "last" takes iperf's
	// closing report, "mean" and "median" reduce the interval reports.
	Summary string `yaml:"summary"`
	// Units is the bandwidth unit results are reported in.
	Units string `yaml:"units"`
	// Maximum drops interval reports above it, when positive.
	Maximum float64 `yaml:"maximum"`
	// Options are iperf options.
	Options map[string]any `yaml:",inline"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging:        logging.DefaultConfig(),
		ResultLocation: "rate_vs_range",
		TestName:       "rvr",
		Repetitions:    1,
		RecoveryTime:   10 * time.Second,
		SettleDelay:    iperf.DefaultSettleDelay,
		DUT:            host.DefaultConfig(),
		Server:         host.DefaultConfig(),
		Iperf: IperfConfig{
			Direction: "both",
			Command:   iperf.DefaultCommand,
			Summary:   SummaryLast,
			Units:     string(parser.DefaultUnits),
			Options:   map[string]any{},
		},
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*config)(m)); err != nil {
		return err
	}

	return m.Validate()
}

// Validate checks the configuration.
func (m *Config) Validate() error {
	if m.ResultLocation == "" {
		return fmt.Errorf("result_location is required")
	}
	if m.TestName == "" {
		return fmt.Errorf("test_name is required")
	}
	if m.Repetitions < 1 {
		return fmt.Errorf("repetitions must be positive, got %d", m.Repetitions)
	}
	if m.RecoveryTime < 0 {
		return fmt.Errorf("recovery_time must not be negative, got %s", m.RecoveryTime)
	}
	if m.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative, got %s", m.SettleDelay)
	}
	if m.DUT == nil {
		return fmt.Errorf("dut section is required")
	}
	if err := m.DUT.Validate(); err != nil {
		return fmt.Errorf("invalid dut: %w", err)
	}
	if m.Server == nil {
		return fmt.Errorf("server section is required")
	}
	if err := m.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server: %w", err)
	}
	if err := m.Iperf.Validate(); err != nil {
		return fmt.Errorf("invalid iperf: %w", err)
	}
	return nil
}

// Validate checks the iperf section, option values included.
func (m *IperfConfig) Validate() error {
	if _, err := iperf.ParseDirections(m.Direction); err != nil {
		return err
	}
	if m.Command == "" {
		return fmt.Errorf("command is required")
	}
	if _, err := m.Reducer(); err != nil {
		return err
	}
	if _, err := parser.ParseUnits(m.Units); err != nil {
		return err
	}
	if m.Maximum < 0 {
		return fmt.Errorf("maximum must not be negative, got %v", m.Maximum)
	}
	if _, _, _, err := m.Settings(); err != nil {
		return err
	}
	return nil
}

// Directions returns the directions to run, in order.
func (m *IperfConfig) Directions() ([]iperf.Direction, error) {
	return iperf.ParseDirections(m.Direction)
}

// Reducer returns the configured summary reducer, nil for iperf's own
// closing report.
func (m *IperfConfig) Reducer() (iperf.Reducer, error) {
	switch strings.ToLower(m.Summary) {
	case "", SummaryLast:
		return nil, nil
	case SummaryMean:
		return parser.Mean, nil
	case SummaryMedian:
		return parser.Median, nil
	}
	return nil, fmt.Errorf("unknown summary %q, expected one of %q, %q or %q", m.Summary, SummaryLast, SummaryMean, SummaryMedian)
}

// Settings builds the client and server settings from the iperf options.
//
// Every option is offered to both variants. The returned unknown names were
// recognized by neither, sorted.
func (m *IperfConfig) Settings() (*settings.ClientSettings, *settings.ServerSettings, []string, error) {
	options := coerce(m.Options)

	server := settings.NewServerSettings()
	serverLeftovers, err := server.Update(options)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to configure server: %w", err)
	}

	client, err := settings.NewClientSettings("")
	if err != nil {
		return nil, nil, nil, err
	}
	clientLeftovers, err := client.Update(options)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to configure client: %w", err)
	}

	unknown := []string{}
	for name := range serverLeftovers {
		if _, ok := clientLeftovers[name]; ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)

	return client, server, unknown, nil
}

// coerce turns boolean-looking strings into booleans. YAML only treats
// true and false as booleans, while on/off and yes/no are common in iperf
// configurations.
func coerce(options map[string]any) map[string]any {
	out := make(map[string]any, len(options))
	for name, v := range options {
		if s, ok := v.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "on", "yes":
				v = true
			case "false", "off", "no":
				v = false
			}
		}
		out[name] = v
	}
	return out
}

var sections = []string{"test", "logging", "dut", "server", "iperf"}

// Sections returns the names SampleConfig accepts.
func Sections() []string {
	return slices.Clone(sections)
}
