// voicecall - push-to-talk duplex voice client
// Streams the microphone to a hosted voice assistant and plays its replies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicecall/internal/config"
	"github.com/teslashibe/go-voicecall/internal/log"
)

var (
	envFile    string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "voicecall",
	Short: "Duplex voice call with a hosted assistant",
	Long: `Duplex voice call with a hosted assistant.

Press Enter (or the configured toggle key followed by Enter) to start a
call, and again to hang up. Type "q" to quit.

Configuration is read from .env, an optional YAML file, VAPI_* and
VOICECALL_* environment variables, and finally these flags.

Examples:
  voicecall --assistant-id asst_123
  voicecall -c voicecall.yaml --listen 127.0.0.1:8790
  voicecall --backend mock --log-level debug`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := log.Init(cfg.LogLevel, cfg.LogFormat)

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return a.run(ctx)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&envFile, "env-file", ".env", "dotenv file to load (missing file is ignored)")
	f.StringVarP(&configFile, "config", "c", "", "YAML config file")
	f.String("api-key", "", "API key (overrides "+config.EnvAPIKey+")")
	f.String("assistant-id", "", "assistant id (overrides "+config.EnvAssistantID+")")
	f.String("base-url", "", "negotiation API base URL")
	f.Float64("gain", 0, "microphone gain, >= 1")
	f.Float64("volume", 0, "output volume, 0 to 1")
	f.String("backend", "", "audio backend: auto, portaudio, mock")
	f.Int("device-sample-rate", 0, "rate to open audio devices at, resampled to 16000 (0 = 16000)")
	f.String("listen", "", "dashboard address, empty string disables it")
	f.String("toggle-key", "", "stdin line that toggles the call (default Enter)")
	f.String("log-level", "", "log level: debug, info, warn, error")
	f.String("log-format", "", "log format: text or json")
}

// loadConfig layers flags that were set explicitly over config.Load.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	strFlags := map[string]*string{
		"api-key":      &cfg.APIKey,
		"assistant-id": &cfg.AssistantID,
		"base-url":     &cfg.BaseURL,
		"backend":      &cfg.Backend,
		"listen":       &cfg.Listen,
		"toggle-key":   &cfg.ToggleKey,
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
	}
	for name, dst := range strFlags {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	if f.Changed("gain") {
		cfg.Gain, _ = f.GetFloat64("gain")
	}
	if f.Changed("volume") {
		cfg.Volume, _ = f.GetFloat64("volume")
	}
	if f.Changed("device-sample-rate") {
		cfg.DeviceSampleRate, _ = f.GetInt("device-sample-rate")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
