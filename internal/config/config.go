// Package config loads netfeed's layered TOML configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"netfeed/internal/analysis"
	"netfeed/internal/capture"
	nferr "netfeed/internal/errors"
)

// Config represents the complete configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Capture  CaptureConfig  `toml:"capture"`
	Detector DetectorConfig `toml:"detector"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig contains the HTTP and WebSocket listener settings
type ServerConfig struct {
	Listen          string   `toml:"listen"`
	AllowedOrigin   string   `toml:"allowed_origin"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ReadBufferSize  int      `toml:"read_buffer_size"`
	WriteBufferSize int      `toml:"write_buffer_size"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// CaptureConfig contains capture facility and batching settings
type CaptureConfig struct {
	DefaultInterface string   `toml:"default_interface"`
	Snaplen          int      `toml:"snaplen"`
	Promisc          bool     `toml:"promisc"`
	ReadTimeout      Duration `toml:"read_timeout"`
	BPFFilter        string   `toml:"bpf_filter"`
	BatchSize        int      `toml:"batch_size"`
	SendInterval     Duration `toml:"send_interval"`
	StopTimeout      Duration `toml:"stop_timeout"`
	QueueSize        int      `toml:"queue_size"`
}

// DetectorConfig contains anomaly detector thresholds
type DetectorConfig struct {
	Window              Duration `toml:"window"`
	TimestampCapacity   int      `toml:"timestamp_capacity"`
	RateWindow          Duration `toml:"rate_window"`
	RateMinSamples      int      `toml:"rate_min_samples"`
	PacketRateThreshold int      `toml:"packet_rate_threshold"`
	UnusualPortFloor    int      `toml:"unusual_port_floor"`
	IPFloodThreshold    int      `toml:"ip_flood_threshold"`
	SuspiciousPorts     []int    `toml:"suspicious_ports"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
	File   string `toml:"file"`   // empty logs to stderr
}

// Duration is a time.Duration written as a string ("2s", "500ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// GetDefaultConfig returns the built-in defaults.
func GetDefaultConfig() *Config {
	det := analysis.DefaultConfig()
	loop := capture.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Listen:          ":8000",
			AllowedOrigin:   "*",
			WriteTimeout:    Duration{5 * time.Second},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Capture: CaptureConfig{
			DefaultInterface: "en0",
			Snaplen:          65536,
			Promisc:          true,
			ReadTimeout:      Duration{500 * time.Millisecond},
			BatchSize:        loop.BatchSize,
			SendInterval:     Duration{loop.SendInterval},
			StopTimeout:      Duration{loop.StopTimeout},
			QueueSize:        64,
		},
		Detector: DetectorConfig{
			Window:              Duration{det.WindowInterval},
			TimestampCapacity:   det.TimestampCapacity,
			RateWindow:          Duration{det.RateWindow},
			RateMinSamples:      det.RateMinSamples,
			PacketRateThreshold: det.PacketRateThreshold,
			UnusualPortFloor:    det.UnusualPortFloor,
			IPFloodThreshold:    det.IPFloodThreshold,
			SuspiciousPorts:     det.SuspiciousPorts,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// GetConfigPaths returns the config files consulted, lowest precedence first.
func GetConfigPaths() []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp"
	}
	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}

	return []string{
		"/etc/netfeed/config.toml",                            // System config
		filepath.Join(homeDir, ".config/netfeed/config.toml"), // User config
		filepath.Join(workDir, "netfeed.toml"),                // Working directory config
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int64
	}{
		{"capture.batch_size", int64(c.Capture.BatchSize)},
		{"capture.send_interval", int64(c.Capture.SendInterval.Duration)},
		{"capture.stop_timeout", int64(c.Capture.StopTimeout.Duration)},
		{"capture.read_timeout", int64(c.Capture.ReadTimeout.Duration)},
		{"capture.snaplen", int64(c.Capture.Snaplen)},
		{"capture.queue_size", int64(c.Capture.QueueSize)},
		{"detector.window", int64(c.Detector.Window.Duration)},
		{"detector.timestamp_capacity", int64(c.Detector.TimestampCapacity)},
		{"detector.rate_window", int64(c.Detector.RateWindow.Duration)},
		{"detector.packet_rate_threshold", int64(c.Detector.PacketRateThreshold)},
		{"detector.ip_flood_threshold", int64(c.Detector.IPFloodThreshold)},
		{"server.write_timeout", int64(c.Server.WriteTimeout.Duration)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return nferr.Errorf(nferr.KindConfig, "%s must be positive", p.name)
		}
	}

	if c.Detector.RateMinSamples < 0 {
		return nferr.New(nferr.KindConfig, "detector.rate_min_samples must not be negative")
	}
	if c.Server.Listen == "" {
		return nferr.New(nferr.KindConfig, "server.listen must be set")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return nferr.Errorf(nferr.KindConfig, "log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// DetectorSettings converts the [detector] section for the anomaly detector.
func (c *Config) DetectorSettings() analysis.Config {
	ports := make([]int, len(c.Detector.SuspiciousPorts))
	copy(ports, c.Detector.SuspiciousPorts)

	return analysis.Config{
		WindowInterval:      c.Detector.Window.Duration,
		TimestampCapacity:   c.Detector.TimestampCapacity,
		RateWindow:          c.Detector.RateWindow.Duration,
		RateMinSamples:      c.Detector.RateMinSamples,
		PacketRateThreshold: c.Detector.PacketRateThreshold,
		UnusualPortFloor:    c.Detector.UnusualPortFloor,
		IPFloodThreshold:    c.Detector.IPFloodThreshold,
		SuspiciousPorts:     ports,
	}
}

// LoopSettings converts the [capture] and [detector] sections for a capture loop.
func (c *Config) LoopSettings() capture.Config {
	return capture.Config{
		BatchSize:    c.Capture.BatchSize,
		SendInterval: c.Capture.SendInterval.Duration,
		StopTimeout:  c.Capture.StopTimeout.Duration,
		Detector:     c.DetectorSettings(),
	}
}
