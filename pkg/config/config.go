package config

import (
	"math"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Link retry policies understood by the upload client.
const (
	LinkBounded   = "bounded"
	LinkUnbounded = "unbounded"
)

// Modem kinds.
const (
	ModemSIM7000 = "sim7000"
	ModemDirect  = "direct"
)

// Environment sources for the placeholder telemetry fields.
const (
	EnvironmentRandom = "random"
	EnvironmentFixed  = "fixed"
)

// Config represents the node configuration.
type Config struct {
	Geometry GeometryConfig `yaml:"geometry"`
	Sensors  SensorsConfig  `yaml:"sensors"`
	Modem    ModemConfig    `yaml:"modem"`
	Upload   UploadConfig   `yaml:"upload"`
	Cycle    CycleConfig    `yaml:"cycle"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Mock     MockConfig     `yaml:"mock"`
}

// GeometryConfig describes the container and how the two rangefinders are mounted.
// All linear values are in inches.
type GeometryConfig struct {
	Length         float64     `yaml:"length"`
	Width          float64     `yaml:"width"`
	Height         float64     `yaml:"height"`
	Shallow        MountConfig `yaml:"shallow"`
	Steep          MountConfig `yaml:"steep"`
	DetectionRatio float64     `yaml:"detection_ratio"` // Fraction of the empty baseline below which a sensor sees trash
	RejectInvalid  bool        `yaml:"reject_invalid"`  // Skip the cycle when a sensor read fails instead of estimating with the sentinel
	Clamp          bool        `yaml:"clamp"`           // Clamp fullness to [0, 100]
}

// MountConfig describes one rangefinder mount.
type MountConfig struct {
	Angle          float64 `yaml:"angle"`           // Degrees below horizontal
	OffsetDistance float64 `yaml:"offset_distance"` // Added to the raw slant reading
	OffsetHeight   float64 `yaml:"offset_height"`   // Subtracted from the perceived height
}

// SensorsConfig contains the rangefinder ports and read timing.
type SensorsConfig struct {
	Shallow        SensorPortConfig `yaml:"shallow"`
	Steep          SensorPortConfig `yaml:"steep"`
	BaudRate       int              `yaml:"baud_rate"`
	SettleDelay    time.Duration    `yaml:"settle_delay"`     // Wait after selecting a sensor
	ScanTimeout    time.Duration    `yaml:"scan_timeout"`     // Deadline for finding a frame header
	FrameDelay     time.Duration    `yaml:"frame_delay"`      // Wait after the header before reading the body
	PollInterval   time.Duration    `yaml:"poll_interval"`    // Sleep between empty polls
	InterReadDelay time.Duration    `yaml:"inter_read_delay"` // Pause after each sensor read
}

// SensorPortConfig contains one rangefinder's serial port.
type SensorPortConfig struct {
	Port string `yaml:"port"`
}

// ModemConfig contains the cellular link configuration.
type ModemConfig struct {
	Kind           string        `yaml:"kind"` // sim7000 or direct
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud_rate"`
	Interface      string        `yaml:"interface"` // direct: network interface that must be up, empty for any
	APN            string        `yaml:"apn"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	ResetPin       string        `yaml:"reset_pin"` // GPIO name, empty to skip the power sequence
	PowerPin       string        `yaml:"power_pin"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// UploadConfig contains the ingestion endpoint and the upload state machine timing.
type UploadConfig struct {
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port"`
	UnitID          int64             `yaml:"unit_id"`
	ConnectAttempts int               `yaml:"connect_attempts"`
	ConnectDelay    time.Duration     `yaml:"connect_delay"`
	LinkPolicy      string            `yaml:"link_policy"` // bounded or unbounded
	LinkAttempts    int               `yaml:"link_attempts"`
	LinkDelay       time.Duration     `yaml:"link_delay"`
	ResponseTimeout time.Duration     `yaml:"response_timeout"`
	SettleDelay     time.Duration     `yaml:"settle_delay"`
	PollInterval    time.Duration     `yaml:"poll_interval"`
	Environment     EnvironmentConfig `yaml:"environment"`
}

// EnvironmentConfig selects the temperature/humidity placeholder source.
type EnvironmentConfig struct {
	Source      string `yaml:"source"` // random or fixed
	Temperature int64  `yaml:"temperature"`
	Humidity    int64  `yaml:"humidity"`
}

// CycleConfig contains the measurement cycle parameters.
type CycleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig contains logger parameters.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console or json
	File       string `yaml:"file"`   // Optional rotating log file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig contains the status server parameters.
type MetricsConfig struct {
	Listen        string        `yaml:"listen"` // Empty disables the status server
	HistoryWindow time.Duration `yaml:"history_window"`
	DropThreshold int           `yaml:"drop_threshold"` // Fullness drop (points) treated as a collection
}

// MirrorConfig contains the optional MQTT mirror parameters.
type MirrorConfig struct {
	Broker      string        `yaml:"broker"` // Empty disables the mirror
	TopicPrefix string        `yaml:"topic_prefix"`
	ClientID    string        `yaml:"client_id"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MockConfig contains mock sensor configuration.
type MockConfig struct {
	ShallowDistance float64       `yaml:"shallow_distance"` // Raw slant distance reported by the shallow sensor (in)
	SteepDistance   float64       `yaml:"steep_distance"`   // Raw slant distance reported by the steep sensor (in)
	Noise           float64       `yaml:"noise"`            // Peak noise added to each reading (in)
	CorruptRate     float64       `yaml:"corrupt_rate"`     // Probability of a bad checksum
	SilentRate      float64       `yaml:"silent_rate"`      // Probability of no frame at all
	FrameInterval   time.Duration `yaml:"frame_interval"`   // Sensor output period
}

// Default returns a default configuration for the GreenCampus test container.
func Default() *Config {
	return &Config{
		Geometry: GeometryConfig{
			Length: 36,
			Width:  24,
			Height: 36,
			Shallow: MountConfig{
				Angle:          15,
				OffsetDistance: 4.5,
			},
			Steep: MountConfig{
				Angle:          60,
				OffsetDistance: 4.5 * math.Cos(60*math.Pi/180),
				OffsetHeight:   3,
			},
			DetectionRatio: 0.85,
		},
		Sensors: SensorsConfig{
			Shallow:        SensorPortConfig{Port: "/dev/ttyAMA1"},
			Steep:          SensorPortConfig{Port: "/dev/ttyAMA2"},
			BaudRate:       9600,
			SettleDelay:    100 * time.Millisecond,
			ScanTimeout:    300 * time.Millisecond,
			FrameDelay:     10 * time.Millisecond,
			PollInterval:   time.Millisecond,
			InterReadDelay: 50 * time.Millisecond,
		},
		Modem: ModemConfig{
			Kind:           ModemSIM7000,
			Port:           "/dev/ttyUSB2",
			BaudRate:       115200,
			APN:            "soracom.io",
			User:           "sora",
			Password:       "sora",
			CommandTimeout: 10 * time.Second,
			ConnectTimeout: 75 * time.Second,
			PollInterval:   10 * time.Millisecond,
		},
		Upload: UploadConfig{
			Host:            "harvest.soracom.io",
			Port:            80,
			UnitID:          1,
			ConnectAttempts: 5,
			ConnectDelay:    5 * time.Second,
			LinkPolicy:      LinkBounded,
			LinkAttempts:    3,
			LinkDelay:       10 * time.Second,
			ResponseTimeout: 10 * time.Second,
			SettleDelay:     100 * time.Millisecond,
			PollInterval:    10 * time.Millisecond,
			Environment: EnvironmentConfig{
				Source: EnvironmentRandom,
			},
		},
		Cycle: CycleConfig{
			Interval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			HistoryWindow: 24 * time.Hour,
			DropThreshold: 30,
		},
		Mirror: MirrorConfig{
			TopicPrefix: "greencampus/dumpster",
			ClientID:    "smartdumpster",
			Timeout:     5 * time.Second,
		},
		Mock: MockConfig{
			ShallowDistance: 37,
			SteepDistance:   41,
			Noise:           0.0,
			FrameInterval:   100 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate checks the values that the estimator and upload client cannot run without.
func (c *Config) Validate() error {
	g := c.Geometry
	if g.Length <= 0 || g.Width <= 0 || g.Height <= 0 {
		return errors.Errorf("geometry: dimensions must be positive, got %vx%vx%v", g.Length, g.Width, g.Height)
	}
	for name, m := range map[string]MountConfig{"shallow": g.Shallow, "steep": g.Steep} {
		if m.Angle <= 0 || m.Angle >= 90 {
			return errors.Errorf("geometry: %s angle must be in (0, 90), got %v", name, m.Angle)
		}
	}
	if g.Shallow.Angle >= g.Steep.Angle {
		return errors.Errorf("geometry: shallow angle %v must be below steep angle %v", g.Shallow.Angle, g.Steep.Angle)
	}
	if g.DetectionRatio <= 0 || g.DetectionRatio > 1 {
		return errors.Errorf("geometry: detection_ratio must be in (0, 1], got %v", g.DetectionRatio)
	}

	switch c.Modem.Kind {
	case ModemSIM7000, ModemDirect:
	default:
		return errors.Errorf("modem: unknown kind %q", c.Modem.Kind)
	}

	u := c.Upload
	if u.Host == "" {
		return errors.New("upload: host is required")
	}
	if u.Port <= 0 || u.Port > 65535 {
		return errors.Errorf("upload: port out of range: %d", u.Port)
	}
	if u.ConnectAttempts < 1 {
		return errors.Errorf("upload: connect_attempts must be >= 1, got %d", u.ConnectAttempts)
	}
	switch u.LinkPolicy {
	case LinkBounded:
		if u.LinkAttempts < 1 {
			return errors.Errorf("upload: link_attempts must be >= 1 for a bounded policy, got %d", u.LinkAttempts)
		}
	case LinkUnbounded:
	default:
		return errors.Errorf("upload: unknown link_policy %q", u.LinkPolicy)
	}
	switch u.Environment.Source {
	case EnvironmentRandom, EnvironmentFixed:
	default:
		return errors.Errorf("upload: unknown environment source %q", u.Environment.Source)
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return errors.Errorf("log: unknown format %q", c.Log.Format)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Geometry.Length == 0 {
		c.Geometry.Length = def.Geometry.Length
	}
	if c.Geometry.Width == 0 {
		c.Geometry.Width = def.Geometry.Width
	}
	if c.Geometry.Height == 0 {
		c.Geometry.Height = def.Geometry.Height
	}
	if c.Geometry.Shallow.Angle == 0 {
		c.Geometry.Shallow.Angle = def.Geometry.Shallow.Angle
	}
	if c.Geometry.Steep.Angle == 0 {
		c.Geometry.Steep.Angle = def.Geometry.Steep.Angle
	}
	if c.Geometry.DetectionRatio == 0 {
		c.Geometry.DetectionRatio = def.Geometry.DetectionRatio
	}

	if c.Sensors.BaudRate == 0 {
		c.Sensors.BaudRate = def.Sensors.BaudRate
	}
	if c.Sensors.SettleDelay == 0 {
		c.Sensors.SettleDelay = def.Sensors.SettleDelay
	}
	if c.Sensors.ScanTimeout == 0 {
		c.Sensors.ScanTimeout = def.Sensors.ScanTimeout
	}
	if c.Sensors.FrameDelay == 0 {
		c.Sensors.FrameDelay = def.Sensors.FrameDelay
	}
	if c.Sensors.PollInterval == 0 {
		c.Sensors.PollInterval = def.Sensors.PollInterval
	}
	if c.Sensors.InterReadDelay == 0 {
		c.Sensors.InterReadDelay = def.Sensors.InterReadDelay
	}

	if c.Modem.Kind == "" {
		c.Modem.Kind = def.Modem.Kind
	}
	if c.Modem.BaudRate == 0 {
		c.Modem.BaudRate = def.Modem.BaudRate
	}
	if c.Modem.CommandTimeout == 0 {
		c.Modem.CommandTimeout = def.Modem.CommandTimeout
	}
	if c.Modem.ConnectTimeout == 0 {
		c.Modem.ConnectTimeout = def.Modem.ConnectTimeout
	}
	if c.Modem.PollInterval == 0 {
		c.Modem.PollInterval = def.Modem.PollInterval
	}

	if c.Upload.Host == "" {
		c.Upload.Host = def.Upload.Host
	}
	if c.Upload.Port == 0 {
		c.Upload.Port = def.Upload.Port
	}
	if c.Upload.ConnectAttempts == 0 {
		c.Upload.ConnectAttempts = def.Upload.ConnectAttempts
	}
	if c.Upload.ConnectDelay == 0 {
		c.Upload.ConnectDelay = def.Upload.ConnectDelay
	}
	if c.Upload.LinkPolicy == "" {
		c.Upload.LinkPolicy = def.Upload.LinkPolicy
	}
	if c.Upload.LinkAttempts == 0 {
		c.Upload.LinkAttempts = def.Upload.LinkAttempts
	}
	if c.Upload.LinkDelay == 0 {
		c.Upload.LinkDelay = def.Upload.LinkDelay
	}
	if c.Upload.ResponseTimeout == 0 {
		c.Upload.ResponseTimeout = def.Upload.ResponseTimeout
	}
	if c.Upload.SettleDelay == 0 {
		c.Upload.SettleDelay = def.Upload.SettleDelay
	}
	if c.Upload.PollInterval == 0 {
		c.Upload.PollInterval = def.Upload.PollInterval
	}
	if c.Upload.Environment.Source == "" {
		c.Upload.Environment.Source = def.Upload.Environment.Source
	}

	if c.Cycle.Interval == 0 {
		c.Cycle.Interval = def.Cycle.Interval
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}

	if c.Metrics.HistoryWindow == 0 {
		c.Metrics.HistoryWindow = def.Metrics.HistoryWindow
	}
	if c.Metrics.DropThreshold == 0 {
		c.Metrics.DropThreshold = def.Metrics.DropThreshold
	}

	if c.Mirror.TopicPrefix == "" {
		c.Mirror.TopicPrefix = def.Mirror.TopicPrefix
	}
	if c.Mirror.ClientID == "" {
		c.Mirror.ClientID = def.Mirror.ClientID
	}
	if c.Mirror.Timeout == 0 {
		c.Mirror.Timeout = def.Mirror.Timeout
	}

	if c.Mock.FrameInterval == 0 {
		c.Mock.FrameInterval = def.Mock.FrameInterval
	}
}
