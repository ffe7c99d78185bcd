package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicecall/pkg/call"
	"github.com/teslashibe/go-voicecall/pkg/hub"
)

// handleStatus returns the controller snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

// handleToggle queues a toggle for the control loop
func (s *Server) handleToggle(c *fiber.Ctx) error {
	state := s.ctrl.Status().State
	if !s.ctrl.RequestToggle() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "toggle already pending",
			"state": state,
		})
	}
	if state.Busy() {
		// Accepted, but the control loop will refuse it until the
		// transition finishes.
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"accepted": true,
			"state":    state,
			"warning":  "transition in progress",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": true,
		"state":    state,
	})
}

// handleEvents returns recent diagnostic events
func (s *Server) handleEvents(c *fiber.Ctx) error {
	s.recentMu.RLock()
	events := make([]call.Event, len(s.recent))
	copy(events, s.recent)
	s.recentMu.RUnlock()
	return c.JSON(events)
}

// handleEventsWS streams events to one subscriber
func (s *Server) handleEventsWS(c *websocket.Conn) {
	// Current status first, before the write pump owns the connection.
	if err := c.WriteJSON(fiber.Map{"status": s.ctrl.Status()}); err != nil {
		return
	}

	client := hub.NewClient(s.events, c)
	if client == nil {
		return
	}
	client.Run()
}
