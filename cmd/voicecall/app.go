package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-voicecall/internal/config"
	"github.com/teslashibe/go-voicecall/pkg/audioio"
	"github.com/teslashibe/go-voicecall/pkg/call"
	"github.com/teslashibe/go-voicecall/pkg/metrics"
	"github.com/teslashibe/go-voicecall/pkg/negotiate"
	"github.com/teslashibe/go-voicecall/pkg/playback"
	"github.com/teslashibe/go-voicecall/pkg/web"
)

// app wires the audio devices, the controller and the dashboard.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	ctrl   *call.Controller
	server *web.Server // nil when the dashboard is disabled
	stdin  io.Reader
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	audioCfg := audioConfig(cfg)
	mic, err := audioio.NewMicrophone(audioCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("microphone: %w", err)
	}
	sink, err := audioio.NewSink(audioCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("audio sink: %w", err)
	}

	policy, err := playback.ParseOverflowPolicy(cfg.PlaybackOverflow)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	neg := negotiate.New(
		negotiate.WithBaseURL(cfg.BaseURL),
		negotiate.WithLogger(logger),
	)
	ctrl, err := call.New(neg, mic, sink,
		call.WithCredentials(negotiate.Credentials{
			APIKey:      cfg.APIKey,
			AssistantID: cfg.AssistantID,
		}),
		call.WithGain(float32(cfg.Gain)),
		call.WithVolume(float32(cfg.Volume)),
		call.WithQueue(playback.New(cfg.PlaybackCapacity, policy)),
		call.WithLogger(logger),
		call.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		ctrl:   ctrl,
		stdin:  os.Stdin,
	}
	if cfg.Listen != "" {
		a.server = web.NewServer(cfg.Listen, ctrl, reg, logger)
	}
	return a, nil
}

// audioConfig derives the device configuration. Devices run at
// DeviceSampleRate and are resampled to the wire rate.
func audioConfig(cfg *config.Config) audioio.Config {
	return audioio.Config{
		Backend:          audioio.Backend(cfg.Backend),
		SampleRate:       cfg.SampleRate,
		DeviceSampleRate: cfg.DeviceSampleRate,
		BufferDuration:   time.Duration(cfg.RenderFrames) * time.Second / time.Duration(cfg.SampleRate),
		MicBuffer:        cfg.MicBuffer,
	}
}

// run blocks until ctx is cancelled or a component fails.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.controlLoop(gctx)
		return nil
	})
	g.Go(func() error {
		a.forwardEvents()
		return nil
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(gctx)
		})
	}

	// Not part of the group: a blocked stdin read cannot be interrupted.
	go a.readToggles(cancel)

	a.logger.Info("voicecall ready",
		"toggle", a.toggleLabel(),
		"backends", audioio.AvailableBackends(),
		"dashboard", a.cfg.Listen,
	)
	return g.Wait()
}

// controlLoop owns the controller. Shutdown closes the event stream, which
// ends forwardEvents.
func (a *app) controlLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	defer a.ctrl.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.ctrl.Tick()
		}
	}
}

func (a *app) forwardEvents() {
	for ev := range a.ctrl.Events() {
		if ev.Kind == call.EventStateChanged {
			fmt.Fprintf(os.Stderr, "● %s\n", ev.State)
		}
		if a.server != nil {
			a.server.Publish(ev)
		}
	}
}

// readToggles requests a toggle for every line matching the toggle key.
func (a *app) readToggles(quit context.CancelFunc) {
	scanner := bufio.NewScanner(a.stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "q" || line == "quit":
			quit()
			return
		case line == a.cfg.ToggleKey:
			if !a.ctrl.RequestToggle() {
				a.logger.Debug("toggle already pending")
			}
		}
	}
}

func (a *app) toggleLabel() string {
	if a.cfg.ToggleKey == "" {
		return "Enter"
	}
	return a.cfg.ToggleKey + "+Enter"
}
