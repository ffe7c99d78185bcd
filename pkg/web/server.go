// Package web provides the local call dashboard: status and toggle over
// HTTP, live diagnostic events over WebSocket, and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-voicecall/pkg/call"
	"github.com/teslashibe/go-voicecall/pkg/hub"
)

// recentEvents is how many events /api/events keeps.
const recentEvents = 200

// Controller is the part of call.Controller the dashboard drives. Both
// methods are safe from any goroutine.
type Controller interface {
	Status() call.Status
	RequestToggle() bool
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	ctrl   Controller
	events *hub.Hub

	recent   []call.Event
	recentMu sync.RWMutex
}

// NewServer creates a dashboard for ctrl. Metrics are served from
// gatherer; pass nil to disable /metrics.
func NewServer(addr string, ctrl Controller, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		logger: logger.With("component", "web"),
		ctrl:   ctrl,
		events: hub.New("events", logger),
		recent: make([]call.Event, 0, recentEvents),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicecall",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/toggle", s.handleToggle)
	api.Get("/events", s.handleEvents)

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Publish records ev and broadcasts it to WebSocket subscribers.
func (s *Server) Publish(ev call.Event) {
	s.recentMu.Lock()
	if len(s.recent) == recentEvents {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:recentEvents-1]
	}
	s.recent = append(s.recent, ev)
	s.recentMu.Unlock()

	if err := s.events.BroadcastJSON("event", ev); err != nil {
		s.logger.Warn("encode event failed", "error", err)
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.events.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", "http://"+s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
