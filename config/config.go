// Package config loads the console and simulator settings from TOML
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"vdblink/host/serial"
	"vdblink/logging"
	"vdblink/protocol"
	"vdblink/registry"
)

// Duration is a time.Duration written as a string ("500ms", "1s") in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type SerialSection struct {
	Device      string   `toml:"device"`
	Baud        int      `toml:"baud"`
	ReadTimeout Duration `toml:"read_timeout"`
	BufferSize  int      `toml:"buffer_size"`
}

type TransportSection struct {
	QueueCapacity    int      `toml:"queue_capacity"`
	InboundCapacity  int      `toml:"inbound_capacity"`
	IdleDelay        Duration `toml:"idle_delay"`
	LeadingDelimiter bool     `toml:"leading_delimiter"`
}

type RegistrySection struct {
	AckTimeout         Duration `toml:"ack_timeout"`
	BroadcastRetries   int      `toml:"broadcast_retries"`
	PollInterval       Duration `toml:"poll_interval"`
	ModeSwitchInterval Duration `toml:"mode_switch_interval"`
}

type RecorderSection struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type HTTPSection struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type LogSection struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Config is the complete vdb-console configuration file
type Config struct {
	Serial    SerialSection    `toml:"serial"`
	Transport TransportSection `toml:"transport"`
	Registry  RegistrySection  `toml:"registry"`
	Recorder  RecorderSection  `toml:"recorder"`
	HTTP      HTTPSection      `toml:"http"`
	Log       LogSection       `toml:"log"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	sc := serial.DefaultConfig("/dev/ttyUSB0")
	tc := protocol.DefaultTransportConfig()
	rc := registry.DefaultConfig()

	return &Config{
		Serial: SerialSection{
			Device:      sc.Device,
			Baud:        sc.Baud,
			ReadTimeout: Duration{sc.ReadTimeout},
			BufferSize:  sc.BufferSize,
		},
		Transport: TransportSection{
			QueueCapacity:    tc.QueueCapacity,
			InboundCapacity:  tc.InboundCapacity,
			IdleDelay:        Duration{tc.IdleDelay},
			LeadingDelimiter: tc.LeadingDelimiter,
		},
		Registry: RegistrySection{
			AckTimeout:         Duration{rc.AckTimeout},
			BroadcastRetries:   rc.BroadcastRetries,
			PollInterval:       Duration{rc.PollInterval},
			ModeSwitchInterval: Duration{rc.ModeSwitchInterval},
		},
		Recorder: RecorderSection{
			Path: "vdb-recordings",
		},
		HTTP: HTTPSection{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return finish(cfg, meta)
}

// Parse decodes TOML text over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg, meta)
}

func finish(cfg *Config, meta toml.MetaData) (*Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in values a file cleared
func applyDefaults(cfg *Config) {
	cfg.Serial.Device = strings.TrimSpace(cfg.Serial.Device)
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Serial.BufferSize == 0 {
		cfg.Serial.BufferSize = 4096
	}
	if cfg.Transport.InboundCapacity == 0 {
		cfg.Transport.InboundCapacity = cfg.Transport.QueueCapacity
	}
	if cfg.Registry.PollInterval.Duration == 0 {
		cfg.Registry.PollInterval.Duration = 5 * time.Millisecond
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.HTTP.Addr = strings.TrimSpace(cfg.HTTP.Addr)
	cfg.Recorder.Path = strings.TrimSpace(cfg.Recorder.Path)
}

// Validate rejects settings the link cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Transport.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("transport.queue_capacity must be at least 1, got %d", c.Transport.QueueCapacity))
	}
	if c.Transport.IdleDelay.Duration <= 0 {
		errs = append(errs, errors.New("transport.idle_delay must be positive"))
	}
	if c.Registry.BroadcastRetries < 1 {
		errs = append(errs, fmt.Errorf("registry.broadcast_retries must be at least 1, got %d", c.Registry.BroadcastRetries))
	}
	if c.Registry.AckTimeout.Duration <= 0 {
		errs = append(errs, errors.New("registry.ack_timeout must be positive"))
	}
	if c.Registry.ModeSwitchInterval.Duration <= 0 {
		errs = append(errs, errors.New("registry.mode_switch_interval must be positive"))
	}
	if c.Serial.Baud < 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level %q is not a known level", c.Log.Level))
	}
	if c.Recorder.Enabled && c.Recorder.Path == "" {
		errs = append(errs, errors.New("recorder.path is required when the recorder is enabled"))
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required when http is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// TransportConfig returns the framed transport settings
func (c *Config) TransportConfig() protocol.TransportConfig {
	tc := protocol.DefaultTransportConfig()
	tc.QueueCapacity = c.Transport.QueueCapacity
	tc.InboundCapacity = c.Transport.InboundCapacity
	tc.IdleDelay = c.Transport.IdleDelay.Duration
	tc.LeadingDelimiter = c.Transport.LeadingDelimiter
	return tc
}

// OriginatorOptions returns the registry timing as options
func (c *Config) OriginatorOptions() []registry.Option {
	return []registry.Option{
		registry.WithAckTimeout(c.Registry.AckTimeout.Duration),
		registry.WithBroadcastRetries(c.Registry.BroadcastRetries),
		registry.WithPollInterval(c.Registry.PollInterval.Duration),
		registry.WithModeSwitchInterval(c.Registry.ModeSwitchInterval.Duration),
	}
}

// SerialConfig returns the serial port settings
func (c *Config) SerialConfig() *serial.Config {
	return &serial.Config{
		Device:      c.Serial.Device,
		Baud:        c.Serial.Baud,
		ReadTimeout: c.Serial.ReadTimeout.Duration,
		BufferSize:  c.Serial.BufferSize,
	}
}
