// Package negotiate creates a call on the voice service and returns the
// WebSocket endpoint for its audio.
package negotiate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teslashibe/go-voicecall/internal/httpc"
	"github.com/teslashibe/go-voicecall/pkg/transport"
)

// DefaultBaseURL is the public API host.
const DefaultBaseURL = "https://api.vapi.ai"

// TransportProvider selects raw PCM over a WebSocket.
const TransportProvider = "vapi.websocket"

// Credentials authenticate a negotiation.
type Credentials struct {
	APIKey      string
	AssistantID string
}

// Validate checks that both fields are set.
func (c Credentials) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.AssistantID == "" {
		return ErrMissingAssistantID
	}
	return nil
}

// Session is a negotiated call.
type Session struct {
	// CallID identifies the call for logging. It is never reused.
	CallID string

	// Endpoint is where the audio connection must be opened.
	Endpoint transport.Endpoint
}

type createCallRequest struct {
	AssistantID string        `json:"assistantId"`
	Transport   transportSpec `json:"transport"`
}

type transportSpec struct {
	Provider string `json:"provider"`
}

type createCallResponse struct {
	ID        string `json:"id"`
	Transport struct {
		Provider         string `json:"provider"`
		WebsocketCallURL string `json:"websocketCallUrl"`
	} `json:"transport"`
}

type errorResponse struct {
	Message any    `json:"message"`
	Error   string `json:"error"`
}

// Negotiator creates call sessions. The controller depends on this
// interface so tests can substitute it.
type Negotiator interface {
	Negotiate(ctx context.Context, creds Credentials) (Session, error)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client calls the call-creation endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client that uses the shared HTTP client by default.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpc.Client,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "negotiate")
	return c
}

// Negotiate creates a new call and returns its endpoint. Every call yields
// a fresh, single-use session.
func (c *Client) Negotiate(ctx context.Context, creds Credentials) (Session, error) {
	if err := creds.Validate(); err != nil {
		return Session{}, err
	}

	body, err := json.Marshal(createCallRequest{
		AssistantID: creds.AssistantID,
		Transport:   transportSpec{Provider: TransportProvider},
	})
	if err != nil {
		return Session{}, fmt.Errorf("negotiate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("negotiate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)

	c.logger.Debug("creating call", "assistant_id", creds.AssistantID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("negotiate: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("negotiate: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Session{}, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	var result createCallResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if result.Transport.WebsocketCallURL == "" {
		return Session{}, fmt.Errorf("%w: missing transport.websocketCallUrl", ErrMalformedResponse)
	}

	s := Session{
		CallID:   result.ID,
		Endpoint: transport.Endpoint{URL: result.Transport.WebsocketCallURL},
	}
	c.logger.Info("call created", "call_id", s.CallID, "host", s.Endpoint.Host())
	return s, nil
}

// errorMessage extracts a readable message from an error body.
func errorMessage(data []byte) string {
	var er errorResponse
	if err := json.Unmarshal(data, &er); err == nil {
		switch m := er.Message.(type) {
		case string:
			if m != "" {
				return m
			}
		case []any:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		}
		if er.Error != "" {
			return er.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

var _ Negotiator = (*Client)(nil)
