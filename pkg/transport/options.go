package transport

import (
	"log/slog"
	"net/http"
	"time"
)

// Defaults for Open.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultSendQueue        = 64
	DefaultReadLimit        = 1 << 20
	DefaultPingInterval     = 30 * time.Second

	closeGrace = time.Second
)

type options struct {
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	sendQueue        int
	readLimit        int64
	pingInterval     time.Duration
	header           http.Header
	logger           *slog.Logger
}

func defaultOptions() options {
	return options{
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
		sendQueue:        DefaultSendQueue,
		readLimit:        DefaultReadLimit,
		pingInterval:     DefaultPingInterval,
		header:           http.Header{},
		logger:           slog.Default(),
	}
}

// Option configures Open.
type Option func(*options)

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithWriteTimeout sets the per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithSendQueue sets how many outbound frames may wait for the write pump.
func WithSendQueue(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sendQueue = n
		}
	}
}

// WithReadLimit sets the maximum inbound message size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		o.readLimit = n
	}
}

// WithPingInterval sets the keepalive ping period. Zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		o.pingInterval = d
	}
}

// WithHeader adds a header to the handshake request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.header.Add(key, value)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
