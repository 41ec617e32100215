package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/banshee-data/wigglebot/internal/markers"
)

// DefaultConfigPath is where cmd/wigglebot looks when -config is not given.
const DefaultConfigPath = "wigglebot.json"

// EnvPrefix prefixes environment overrides, e.g. WIGGLEBOT_DEBUG_LEVEL=2.
const EnvPrefix = "WIGGLEBOT"

// RequiredKeys must be present in every configuration document.
var RequiredKeys = []string{"input_res_h", "input_res_v", "input_fps"}

// ConfigError reports a malformed or incomplete configuration. It is fatal
// at startup.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Key != "" {
		msg += " " + e.Key
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config is the flat key/value configuration of the robot. Optional fields
// are pointers so that an absent key can be told apart from a zero value;
// the Get* accessors apply the defaults. Unknown keys in the document are
// ignored.
type Config struct {
	// Capture
	InputResH    *int `json:"input_res_h,omitempty" mapstructure:"input_res_h"`
	InputResV    *int `json:"input_res_v,omitempty" mapstructure:"input_res_v"`
	InputFPS     *int `json:"input_fps,omitempty" mapstructure:"input_fps"`
	CameraDevice *int `json:"camera_device,omitempty" mapstructure:"camera_device"`

	// Analysis and debug output
	DebugLevel    *int     `json:"debug_level,omitempty" mapstructure:"debug_level"`
	DebugScale    *float64 `json:"debug_scale,omitempty" mapstructure:"debug_scale"`
	ROISize       *int     `json:"roi_size,omitempty" mapstructure:"roi_size"`
	StreamCmd     []string `json:"stream_cmd,omitempty" mapstructure:"stream_cmd"`
	GStreamerPipe []string `json:"gstreamer_pipe,omitempty" mapstructure:"gstreamer_pipe"`

	// Marker ring
	MarkerSize     *float64 `json:"marker_size,omitempty" mapstructure:"marker_size"`
	MarkerDistance *float64 `json:"marker_distance,omitempty" mapstructure:"marker_distance"`
	MarkerIDs      []int    `json:"marker_ids,omitempty" mapstructure:"marker_ids"`

	// Motors and waveform engine
	MotorFreqHz    *float64 `json:"motor_freq_hz,omitempty" mapstructure:"motor_freq_hz"`
	MotorPins      []int    `json:"motor_pins,omitempty" mapstructure:"motor_pins"`
	StatusPin      *int     `json:"status_pin,omitempty" mapstructure:"status_pin"`
	EnginePort     *string  `json:"engine_port,omitempty" mapstructure:"engine_port"`
	EngineBaudRate *int     `json:"engine_baud_rate,omitempty" mapstructure:"engine_baud_rate"`

	// Storage, telemetry and operations
	DBPath       *string  `json:"db_path,omitempty" mapstructure:"db_path"`
	Listen       *string  `json:"listen,omitempty" mapstructure:"listen"`
	LogLevel     *string  `json:"log_level,omitempty" mapstructure:"log_level"`
	LogFile      *string  `json:"log_file,omitempty" mapstructure:"log_file"`
	GELFAddress  *string  `json:"gelf_address,omitempty" mapstructure:"gelf_address"`
	InfluxURL    *string  `json:"influx_url,omitempty" mapstructure:"influx_url"`
	InfluxToken  *string  `json:"influx_token,omitempty" mapstructure:"influx_token"`
	InfluxOrg    *string  `json:"influx_org,omitempty" mapstructure:"influx_org"`
	InfluxBucket *string  `json:"influx_bucket,omitempty" mapstructure:"influx_bucket"`
	RunSeconds   *float64 `json:"run_seconds,omitempty" mapstructure:"run_seconds"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Load reads a configuration document (.json, .yaml, .yml or .toml) with
// viper, applies WIGGLEBOT_* environment overrides, checks that the required
// keys are present and validates the result. Any failure is a *ConfigError.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".json", ".yaml", ".yml", ".toml":
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported config file extension %q", ext)}
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, &ConfigError{Reason: "failed to stat config file", Err: err}
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, &ConfigError{Reason: fmt.Sprintf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)}
	}

	v := viper.New()
	v.SetConfigFile(cleanPath)
	v.SetEnvPrefix(EnvPrefix)
	// Unmarshal only sees env values for keys viper knows about.
	for _, key := range Keys() {
		if err := v.BindEnv(key); err != nil {
			return nil, &ConfigError{Key: key, Reason: "failed to bind environment", Err: err}
		}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Reason: "failed to read config file", Err: err}
	}
	return fromViper(v)
}

// Keys lists every configuration key, in declaration order.
func Keys() []string {
	t := reflect.TypeFor[Config]()
	keys := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		if key := t.Field(i).Tag.Get("mapstructure"); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func fromViper(v *viper.Viper) (*Config, error) {
	for _, key := range RequiredKeys {
		if !v.IsSet(key) {
			return nil, &ConfigError{Key: key, Reason: "required key missing"}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Reason: "failed to decode config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	positive := []struct {
		key string
		v   *int
	}{
		{"input_res_h", c.InputResH},
		{"input_res_v", c.InputResV},
		{"input_fps", c.InputFPS},
		{"engine_baud_rate", c.EngineBaudRate},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return &ConfigError{Key: p.key, Reason: fmt.Sprintf("must be positive, got %d", *p.v)}
		}
	}

	if c.DebugLevel != nil && (*c.DebugLevel < 0 || *c.DebugLevel > 3) {
		return &ConfigError{Key: "debug_level", Reason: fmt.Sprintf("must be between 0 and 3, got %d", *c.DebugLevel)}
	}
	if c.DebugScale != nil && *c.DebugScale <= 0 {
		return &ConfigError{Key: "debug_scale", Reason: fmt.Sprintf("must be positive, got %f", *c.DebugScale)}
	}
	if c.ROISize != nil && *c.ROISize < 16 {
		return &ConfigError{Key: "roi_size", Reason: fmt.Sprintf("must be at least 16 pixels, got %d", *c.ROISize)}
	}
	if c.MotorFreqHz != nil && (*c.MotorFreqHz <= 0 || *c.MotorFreqHz > 250_000) {
		return &ConfigError{Key: "motor_freq_hz", Reason: fmt.Sprintf("must be in (0, 250000], got %f", *c.MotorFreqHz)}
	}
	if err := uniqueInRange("motor_pins", c.MotorPins, 0, 31); err != nil {
		return err
	}
	if len(c.MotorPins) == 1 {
		return &ConfigError{Key: "motor_pins", Reason: "need a reference pin and at least one driven pin"}
	}
	if c.StatusPin != nil && (*c.StatusPin < 0 || *c.StatusPin > 31) {
		return &ConfigError{Key: "status_pin", Reason: fmt.Sprintf("must be between 0 and 31, got %d", *c.StatusPin)}
	}
	if err := uniqueInRange("marker_ids", c.MarkerIDs, 0, 1<<20); err != nil {
		return err
	}
	if c.MarkerSize != nil && *c.MarkerSize <= 0 {
		return &ConfigError{Key: "marker_size", Reason: fmt.Sprintf("must be positive, got %f", *c.MarkerSize)}
	}
	if c.RunSeconds != nil && *c.RunSeconds < 0 {
		return &ConfigError{Key: "run_seconds", Reason: fmt.Sprintf("must be non-negative, got %f", *c.RunSeconds)}
	}
	return nil
}

func uniqueInRange(key string, vals []int, lo, hi int) error {
	seen := make(map[int]bool, len(vals))
	for _, v := range vals {
		if v < lo || v > hi {
			return &ConfigError{Key: key, Reason: fmt.Sprintf("value %d outside [%d, %d]", v, lo, hi)}
		}
		if seen[v] {
			return &ConfigError{Key: key, Reason: fmt.Sprintf("duplicate value %d", v)}
		}
		seen[v] = true
	}
	return nil
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// GetResolution returns the capture width and height in pixels.
func (c *Config) GetResolution() (int, int) {
	return getInt(c.InputResH, 320), getInt(c.InputResV, 240)
}

// GetFPS returns the capture frame rate.
func (c *Config) GetFPS() int { return getInt(c.InputFPS, 25) }

// GetFrameInterval is the nominal time between frames.
func (c *Config) GetFrameInterval() time.Duration {
	return time.Second / time.Duration(c.GetFPS())
}

// GetCameraDevice returns the capture device index.
func (c *Config) GetCameraDevice() int { return getInt(c.CameraDevice, 0) }

// GetDebugLevel returns the debug level; 2 and above enables the overlay stream.
func (c *Config) GetDebugLevel() int { return getInt(c.DebugLevel, 0) }

// GetDebugScale returns the overlay text scale.
func (c *Config) GetDebugScale() float64 { return getFloat(c.DebugScale, 1.0) }

// GetROISize returns the side of the fast-path search window in pixels.
func (c *Config) GetROISize() int { return getInt(c.ROISize, 160) }

// GetMarkerSize returns the marker side length in world units.
func (c *Config) GetMarkerSize() float64 { return getFloat(c.MarkerSize, markers.DefaultMarkerSize) }

// GetMarkerDistance returns the distance of each marker centre from the ring centre.
func (c *Config) GetMarkerDistance() float64 {
	return getFloat(c.MarkerDistance, markers.DefaultMarkerDistance)
}

// GetMarkerIDs returns the marker IDs in ring order.
func (c *Config) GetMarkerIDs() []int {
	if len(c.MarkerIDs) == 0 {
		return append([]int(nil), markers.DefaultMarkerIDs...)
	}
	return append([]int(nil), c.MarkerIDs...)
}

// Layout builds the marker layout described by the configuration.
func (c *Config) Layout() (*markers.Layout, error) {
	l, err := markers.NewLayout(c.GetMarkerSize(), markers.RingPlacements(c.GetMarkerDistance(), c.GetMarkerIDs()))
	if err != nil {
		var lerr *markers.ConfigError
		if errors.As(err, &lerr) {
			return nil, &ConfigError{Key: "marker_ids", Reason: "invalid layout", Err: err}
		}
		return nil, err
	}
	return l, nil
}

// GetMotorFreqHz returns the motor drive frequency.
func (c *Config) GetMotorFreqHz() float64 { return getFloat(c.MotorFreqHz, 3000) }

// GetMotorPins returns the output pins; the first is the reference channel.
func (c *Config) GetMotorPins() []int {
	if len(c.MotorPins) == 0 {
		return []int{19, 20, 21, 22}
	}
	return append([]int(nil), c.MotorPins...)
}

// GetStatusPin returns the pin driven high while the camera is capturing.
func (c *Config) GetStatusPin() int { return getInt(c.StatusPin, 26) }

// GetEnginePort returns the serial device of the waveform engine. Empty
// means the in-memory engine.
func (c *Config) GetEnginePort() string { return getString(c.EnginePort, "") }

// GetEngineBaudRate returns the serial speed of the waveform engine.
func (c *Config) GetEngineBaudRate() int { return getInt(c.EngineBaudRate, 115200) }

// GetDBPath returns the sqlite pose log path. Empty disables the log.
func (c *Config) GetDBPath() string { return getString(c.DBPath, "wigglebot.db") }

// GetListen returns the debug HTTP listen address. Empty disables it.
func (c *Config) GetListen() string { return getString(c.Listen, ":8080") }

// GetLogLevel returns the log level name.
func (c *Config) GetLogLevel() string { return getString(c.LogLevel, "info") }

// GetLogFile returns the log file path, empty for console only.
func (c *Config) GetLogFile() string { return getString(c.LogFile, "") }

// GetGELFAddress returns the Graylog UDP address, empty when disabled.
func (c *Config) GetGELFAddress() string { return getString(c.GELFAddress, "") }

// InfluxSettings groups the optional telemetry target.
type InfluxSettings struct {
	URL, Token, Org, Bucket string
}

// Enabled reports whether a telemetry URL is configured.
func (s InfluxSettings) Enabled() bool { return s.URL != "" }

// GetInflux returns the InfluxDB settings.
func (c *Config) GetInflux() InfluxSettings {
	return InfluxSettings{
		URL:    getString(c.InfluxURL, ""),
		Token:  getString(c.InfluxToken, ""),
		Org:    getString(c.InfluxOrg, "wigglebot"),
		Bucket: getString(c.InfluxBucket, "poses"),
	}
}

// GetRunDuration returns how long the demo loop runs; zero means forever.
func (c *Config) GetRunDuration() time.Duration {
	return time.Duration(getFloat(c.RunSeconds, 150) * float64(time.Second))
}

// Defaults returns a fully populated configuration, as a reference for
// writing config files and for tests.
func Defaults() *Config {
	return &Config{
		InputResH:      ptrInt(320),
		InputResV:      ptrInt(240),
		InputFPS:       ptrInt(25),
		DebugLevel:     ptrInt(0),
		DebugScale:     ptrFloat64(1.0),
		ROISize:        ptrInt(160),
		MarkerSize:     ptrFloat64(markers.DefaultMarkerSize),
		MarkerDistance: ptrFloat64(markers.DefaultMarkerDistance),
		MarkerIDs:      append([]int(nil), markers.DefaultMarkerIDs...),
		MotorFreqHz:    ptrFloat64(3000),
		MotorPins:      []int{19, 20, 21, 22},
		DBPath:         ptrString("wigglebot.db"),
		Listen:         ptrString(":8080"),
		LogLevel:       ptrString("info"),
		RunSeconds:     ptrFloat64(150),
	}
}
