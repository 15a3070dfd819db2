package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the configuration of the flow engine.
type EngineConfig struct {
	FlowTimeout         string `yaml:"flow_timeout"`
	ReaperPeriod        string `yaml:"reaper_period"`
	NumWorkers          int    `yaml:"num_workers"`
	NumShards           uint32 `yaml:"num_shards"`
	SizeOfPacketChannel int    `yaml:"size_of_packet_channel"`
	// TimeSource is "wall" for live traffic or "packet" to drive expiry from
	// packet timestamps when replaying traces.
	TimeSource string `yaml:"time_source"`
}

// CaptureConfig describes a live capture.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	SnapLen     int32  `yaml:"snaplen"`
	Promiscuous bool   `yaml:"promiscuous"`
	BPFFilter   string `yaml:"bpf_filter"`
}

// RecordConfig makes the probe keep a copy of what it captures.
type RecordConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Path              string `yaml:"path"`
	Encoding          string `yaml:"encoding"` // pcap or text
	ChannelBufferSize int    `yaml:"channel_buffer_size"`
}

// ProbeConfig holds the NATS settings shared by the probe and the stream engine.
type ProbeConfig struct {
	NATSURL string       `yaml:"nats_url"`
	Subject string       `yaml:"subject"`
	Record  RecordConfig `yaml:"record"`
}

type ExecConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	InputPath  string   `yaml:"input_path"`
	OutputPath string   `yaml:"output_path"`
	Timeout    string   `yaml:"timeout"`
}

type GRPCConfig struct {
	Addr    string `yaml:"addr"`
	Timeout string `yaml:"timeout"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Timeout string `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// ClassifierConfig selects and configures the classification dispatcher.
type ClassifierConfig struct {
	Type           string      `yaml:"type"` // any registered dispatcher type
	Exec           ExecConfig  `yaml:"exec"`
	GRPC           GRPCConfig  `yaml:"grpc"`
	NATS           NATSConfig  `yaml:"nats"`
	Retry          RetryConfig `yaml:"retry"`
	DeadLetterPath string      `yaml:"dead_letter_path"`
}

type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines one verdict sink.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	Gob        GobConfig        `yaml:"gob"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// SMTPConfig holds the configuration for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// AlerterConfig holds the configuration for the flagged-flow alerter.
type AlerterConfig struct {
	Enabled       bool       `yaml:"enabled"`
	CheckInterval string     `yaml:"check_interval"`
	MinFlagged    int        `yaml:"min_flagged"`
	SMTP          SMTPConfig `yaml:"smtp"`
}

type APIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ListenAddr     string `yaml:"listen_addr"`
	RecentVerdicts int    `yaml:"recent_verdicts"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Capture    CaptureConfig    `yaml:"capture"`
	Probe      ProbeConfig      `yaml:"probe"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Writers    []WriterDef      `yaml:"writers"`
	Alerter    AlerterConfig    `yaml:"alerter"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, fills in defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	e := &c.Engine
	if e.FlowTimeout == "" {
		e.FlowTimeout = "120s"
	}
	if e.ReaperPeriod == "" {
		e.ReaperPeriod = "20s"
	}
	if e.NumWorkers <= 0 {
		e.NumWorkers = 4
	}
	if e.NumShards == 0 {
		e.NumShards = 256
	}
	if e.SizeOfPacketChannel <= 0 {
		e.SizeOfPacketChannel = 10000
	}
	if e.TimeSource == "" {
		e.TimeSource = "wall"
	}

	if c.Capture.SnapLen <= 0 {
		c.Capture.SnapLen = 1600
	}
	if c.Probe.NATSURL == "" {
		c.Probe.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Probe.Subject == "" {
		c.Probe.Subject = "flowsentinel.packets"
	}
	if c.Probe.Record.Encoding == "" {
		c.Probe.Record.Encoding = "pcap"
	}
	if c.Probe.Record.Path == "" {
		c.Probe.Record.Path = "./recordings"
	}

	cl := &c.Classifier
	if cl.Type == "" {
		cl.Type = "exec"
	}
	if cl.Exec.Timeout == "" {
		cl.Exec.Timeout = "60s"
	}
	if cl.GRPC.Addr == "" {
		cl.GRPC.Addr = "127.0.0.1:50051"
	}
	if cl.GRPC.Timeout == "" {
		cl.GRPC.Timeout = "10s"
	}
	if cl.NATS.URL == "" {
		cl.NATS.URL = c.Probe.NATSURL
	}
	if cl.NATS.Subject == "" {
		cl.NATS.Subject = "flowsentinel.classify"
	}
	if cl.NATS.Timeout == "" {
		cl.NATS.Timeout = "10s"
	}
	if cl.Retry.MaxAttempts <= 0 {
		cl.Retry.MaxAttempts = 1
	}
	if cl.Retry.InitialBackoff == "" {
		cl.Retry.InitialBackoff = "500ms"
	}
	if cl.Retry.MaxBackoff == "" {
		cl.Retry.MaxBackoff = "10s"
	}

	if c.Alerter.CheckInterval == "" {
		c.Alerter.CheckInterval = "1m"
	}
	if c.Alerter.MinFlagged <= 0 {
		c.Alerter.MinFlagged = 1
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.RecentVerdicts <= 0 {
		c.API.RecentVerdicts = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	durations := map[string]string{
		"engine.flow_timeout":              c.Engine.FlowTimeout,
		"engine.reaper_period":             c.Engine.ReaperPeriod,
		"classifier.exec.timeout":          c.Classifier.Exec.Timeout,
		"classifier.grpc.timeout":          c.Classifier.GRPC.Timeout,
		"classifier.nats.timeout":          c.Classifier.NATS.Timeout,
		"classifier.retry.initial_backoff": c.Classifier.Retry.InitialBackoff,
		"classifier.retry.max_backoff":     c.Classifier.Retry.MaxBackoff,
		"alerter.check_interval":           c.Alerter.CheckInterval,
	}
	for name, value := range durations {
		if _, err := Duration(name, value); err != nil {
			return err
		}
	}

	switch c.Engine.TimeSource {
	case "wall", "packet":
	default:
		return fmt.Errorf("unknown engine.time_source %q", c.Engine.TimeSource)
	}
	if c.Engine.NumShards >= 32768 {
		return fmt.Errorf("engine.num_shards must be below 32768")
	}
	return nil
}

// Durations returns the parsed flow timeout and reaper period.
func (e EngineConfig) Durations() (timeout, period time.Duration) {
	timeout, _ = time.ParseDuration(e.FlowTimeout)
	period, _ = time.ParseDuration(e.ReaperPeriod)
	return timeout, period
}

// PacketTime reports whether expiry follows packet timestamps.
func (e EngineConfig) PacketTime() bool { return e.TimeSource == "packet" }

// Duration parses the duration setting name, rejecting values that are not
// positive.
func Duration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", name)
	}
	return d, nil
}
