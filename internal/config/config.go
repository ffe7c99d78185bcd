// Package config loads and validates go-voicecall configuration.
//
// Values are layered, later sources winning: built-in defaults, a .env file,
// an optional YAML file, then environment variables. Command-line flags are
// applied by the caller before Validate.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBaseURL          = "https://api.vapi.ai"
	WireSampleRate          = 16000
	DefaultSampleRate       = WireSampleRate
	DefaultTickInterval     = 20 * time.Millisecond
	DefaultMicBuffer        = time.Second
	DefaultRenderFrames     = 320
	DefaultPlaybackCapacity = 5 * DefaultSampleRate
	DefaultListenAddr       = "127.0.0.1:8790"
)

// Environment variable names.
const (
	EnvAPIKey      = "VAPI_API_KEY"
	EnvAssistantID = "VAPI_ASSISTANT_ID"
	EnvBaseURL     = "VAPI_BASE_URL"
	EnvGain        = "VOICECALL_GAIN"
	EnvVolume      = "VOICECALL_VOLUME"
	EnvBackend     = "VOICECALL_BACKEND"
	EnvDeviceRate  = "VOICECALL_DEVICE_SAMPLE_RATE"
	EnvListen      = "VOICECALL_LISTEN"
	EnvLogLevel    = "VOICECALL_LOG_LEVEL"
	EnvLogFormat   = "VOICECALL_LOG_FORMAT"
	EnvToggleKey   = "VOICECALL_TOGGLE_KEY"
)

// Config is the complete client configuration. It is read-only once
// Validate has succeeded.
type Config struct {
	// APIKey authenticates call negotiation.
	APIKey string `yaml:"api_key"`

	// AssistantID selects the remote assistant.
	AssistantID string `yaml:"assistant_id"`

	// BaseURL is the negotiation API root.
	BaseURL string `yaml:"base_url"`

	// Gain multiplies captured samples before encoding. Must be >= 1.
	Gain float64 `yaml:"gain"`

	// Volume scales rendered samples, 0.0 to 1.0.
	Volume float64 `yaml:"volume"`

	// SampleRate is the capture, wire and playback rate in Hz. The service
	// only accepts WireSampleRate.
	SampleRate int `yaml:"sample_rate"`

	// DeviceSampleRate is the rate audio devices are opened at. Device audio
	// is resampled to SampleRate. 0 means SampleRate.
	DeviceSampleRate int `yaml:"device_sample_rate"`

	// ToggleKey is the stdin line that toggles the call. Empty means Enter.
	ToggleKey string `yaml:"toggle_key"`

	// TickInterval is the control-loop period.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MicBuffer is the length of the microphone's circular buffer.
	MicBuffer time.Duration `yaml:"mic_buffer"`

	// RenderFrames is the number of samples per render callback.
	RenderFrames int `yaml:"render_frames"`

	// PlaybackCapacity caps queued playback samples. 0 disables the cap.
	PlaybackCapacity int `yaml:"playback_capacity"`

	// PlaybackOverflow is "drop_oldest" or "drop_newest".
	PlaybackOverflow string `yaml:"playback_overflow"`

	// Backend selects the audio backend: "auto", "portaudio" or "mock".
	Backend string `yaml:"backend"`

	// Listen is the dashboard address. Empty disables the dashboard.
	Listen string `yaml:"listen"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          DefaultBaseURL,
		Gain:             1.0,
		Volume:           1.0,
		SampleRate:       DefaultSampleRate,
		TickInterval:     DefaultTickInterval,
		MicBuffer:        DefaultMicBuffer,
		RenderFrames:     DefaultRenderFrames,
		PlaybackCapacity: DefaultPlaybackCapacity,
		PlaybackOverflow: "drop_oldest",
		Backend:          "auto",
		Listen:           DefaultListenAddr,
		LogLevel:         "info",
	}
}

// Load builds a Config from defaults, envFile, yamlPath and the process
// environment. Missing files are ignored when their path is empty or, for
// the .env file, when it does not exist. Load does not validate.
func Load(envFile, yamlPath string) (*Config, error) {
	cfg := DefaultConfig()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.APIKey, EnvAPIKey)
	setString(&c.AssistantID, EnvAssistantID)
	setString(&c.BaseURL, EnvBaseURL)
	setString(&c.Backend, EnvBackend)
	setString(&c.Listen, EnvListen)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.LogFormat, EnvLogFormat)
	setString(&c.ToggleKey, EnvToggleKey)

	if err := setFloat(&c.Gain, EnvGain); err != nil {
		return err
	}
	if err := setFloat(&c.Volume, EnvVolume); err != nil {
		return err
	}
	return setInt(&c.DeviceSampleRate, EnvDeviceRate)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: api_key is required (set %s)", EnvAPIKey)
	}
	if c.AssistantID == "" {
		return fmt.Errorf("config: assistant_id is required (set %s)", EnvAssistantID)
	}
	if c.BaseURL == "" {
		return errors.New("config: base_url cannot be empty")
	}
	if c.Gain < 1.0 {
		return fmt.Errorf("config: gain must be >= 1.0, got %g", c.Gain)
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("config: volume must be between 0 and 1, got %g", c.Volume)
	}
	if c.SampleRate != WireSampleRate {
		return fmt.Errorf("config: sample_rate must be %d, got %d", WireSampleRate, c.SampleRate)
	}
	if c.DeviceSampleRate < 0 {
		return fmt.Errorf("config: device_sample_rate cannot be negative, got %d", c.DeviceSampleRate)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.MicBuffer <= c.TickInterval {
		return fmt.Errorf("config: mic_buffer (%v) must be longer than tick_interval (%v)", c.MicBuffer, c.TickInterval)
	}
	if c.RenderFrames <= 0 {
		return fmt.Errorf("config: render_frames must be positive, got %d", c.RenderFrames)
	}
	if c.PlaybackCapacity < 0 {
		return fmt.Errorf("config: playback_capacity cannot be negative, got %d", c.PlaybackCapacity)
	}
	switch c.PlaybackOverflow {
	case "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("config: playback_overflow must be drop_oldest or drop_newest, got %q", c.PlaybackOverflow)
	}
	switch c.Backend {
	case "auto", "portaudio", "mock":
	default:
		return fmt.Errorf("config: unsupported backend %q", c.Backend)
	}
	return nil
}

// MicBufferSamples returns the microphone ring length in samples.
func (c *Config) MicBufferSamples() int {
	return int(c.MicBuffer.Seconds() * float64(c.SampleRate))
}
