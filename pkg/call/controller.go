// Package call implements the call session controller: the state machine
// that negotiates a session, opens its transport, and wires capture and
// playback for the duration of the call.
//
// All methods except State, Status, Events, AttemptID and RequestToggle
// belong to the control loop and must be called from one goroutine. The
// control loop never blocks: negotiation and dialing run in the background
// and their results are applied by the next Tick.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-voicecall/pkg/audioio"
	"github.com/teslashibe/go-voicecall/pkg/capture"
	"github.com/teslashibe/go-voicecall/pkg/metrics"
	"github.com/teslashibe/go-voicecall/pkg/negotiate"
	"github.com/teslashibe/go-voicecall/pkg/pcm"
	"github.com/teslashibe/go-voicecall/pkg/playback"
	"github.com/teslashibe/go-voicecall/pkg/transport"
)

type stage int

const (
	stageNegotiated stage = iota
	stageOpened
)

// stageResult carries the outcome of a background step to the control loop.
type stageResult struct {
	attempt string
	stage   stage
	call    negotiate.Session
	session *transport.Session
	err     error
	elapsed time.Duration
}

// Status is a point-in-time view of the controller.
type Status struct {
	State       State           `json:"state"`
	AttemptID   string          `json:"attempt_id,omitempty"`
	CallID      string          `json:"call_id,omitempty"`
	ActiveSince time.Time       `json:"active_since,omitzero"`
	Queue       playback.Stats  `json:"queue"`
	Transport   transport.Stats `json:"transport"`
}

// Controller drives one call at a time through
// Idle → Negotiating → Connecting → Active → Disconnecting → Idle.
type Controller struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	negotiator negotiate.Negotiator
	mic        audioio.MicrophoneSource
	sink       audioio.AudioSink
	queue      *playback.Queue
	sampler    *capture.Sampler

	// Published for readers outside the control loop.
	state       atomic.Int32
	attemptID   atomic.Value // string
	callID      atomic.Value // string
	activeSince atomic.Int64
	live        atomic.Pointer[transport.Session]

	// Control loop only.
	creds         negotiate.Credentials
	attemptCtx    context.Context
	cancel        context.CancelFunc
	session       *transport.Session
	sinkInstalled bool
	lastUnderruns int64
	shutdown      bool

	results  chan stageResult
	requests chan struct{}
	quit     chan struct{}

	// events is written by the control loop and the receive loop, and
	// closed by Shutdown under eventsMu.
	eventsMu     sync.RWMutex
	events       chan Event
	eventsClosed bool
}

// New creates an idle Controller.
func New(neg negotiate.Negotiator, mic audioio.MicrophoneSource, sink audioio.AudioSink, opts ...Option) (*Controller, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case neg == nil:
		return nil, ErrMissingNegotiator
	case mic == nil:
		return nil, ErrMissingMicrophone
	case sink == nil:
		return nil, ErrMissingSink
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Queue == nil {
		cfg.Queue = playback.New(0, playback.DropOldest)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}

	logger := cfg.Logger.With("component", "call")
	samplerOpts := append([]capture.Option{capture.WithLogger(cfg.Logger)}, cfg.SamplerOptions...)

	c := &Controller{
		cfg:        cfg,
		logger:     logger,
		metrics:    cfg.Metrics,
		negotiator: neg,
		mic:        mic,
		sink:       sink,
		queue:      cfg.Queue,
		sampler:    capture.New(samplerOpts...),
		creds:      cfg.Credentials,
		results:    make(chan stageResult),
		requests:   make(chan struct{}, 1),
		events:     make(chan Event, cfg.EventBuffer),
		quit:       make(chan struct{}),
	}
	c.attemptID.Store("")
	c.callID.Store("")
	c.metrics.State.Set(float64(StateIdle))
	return c, nil
}

// State returns the current state. Safe from any goroutine.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// AttemptID returns the id of the current or most recent toggle-on.
func (c *Controller) AttemptID() string {
	return c.attemptID.Load().(string)
}

// Events returns the diagnostic event stream. It is closed by Shutdown.
// Events are dropped, not queued, when the reader falls behind.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Status returns a snapshot. Safe from any goroutine.
func (c *Controller) Status() Status {
	st := Status{
		State:     c.State(),
		AttemptID: c.AttemptID(),
		CallID:    c.callID.Load().(string),
		Queue:     c.queue.Stats(),
	}
	if ns := c.activeSince.Load(); ns != 0 {
		st.ActiveSince = time.Unix(0, ns)
	}
	if s := c.live.Load(); s != nil {
		st.Transport = s.Stats()
	}
	return st
}

// SetCredentials replaces the credentials used by the next ToggleOn.
func (c *Controller) SetCredentials(creds negotiate.Credentials) {
	c.creds = creds
}

// RequestToggle asks the control loop to Toggle on its next Tick. Safe from
// any goroutine. It returns false when a request is already pending.
func (c *Controller) RequestToggle() bool {
	select {
	case c.requests <- struct{}{}:
		return true
	default:
		return false
	}
}

// Toggle turns an idle controller on and an active one off. During a
// transition it returns ErrBusy.
func (c *Controller) Toggle(ctx context.Context) error {
	switch st := c.State(); st {
	case StateIdle:
		return c.ToggleOn(ctx)
	case StateActive:
		return c.ToggleOff()
	default:
		return fmt.Errorf("%w: %s", ErrBusy, st)
	}
}

// ToggleOn starts a new call. It is only valid in Idle; every call
// negotiates a brand-new session. ctx bounds negotiation and dialing.
func (c *Controller) ToggleOn(ctx context.Context) error {
	if c.shutdown {
		return ErrShutdown
	}
	if st := c.State(); st != StateIdle {
		return fmt.Errorf("%w: toggle on from %s", ErrInvalidTransition, st)
	}

	attempt := uuid.NewString()
	c.attemptID.Store(attempt)
	c.callID.Store("")

	actx, cancel := context.WithCancel(ctx)
	c.attemptCtx = actx
	c.cancel = cancel
	c.setState(StateNegotiating)

	creds := c.creds
	go func() {
		start := time.Now()
		call, err := c.negotiator.Negotiate(actx, creds)
		c.deliver(stageResult{
			attempt: attempt,
			stage:   stageNegotiated,
			call:    call,
			err:     err,
			elapsed: time.Since(start),
		})
	}()
	return nil
}

// ToggleOff ends the active call. It is only valid in Active.
func (c *Controller) ToggleOff() error {
	if st := c.State(); st != StateActive {
		return fmt.Errorf("%w: toggle off from %s", ErrInvalidTransition, st)
	}
	c.teardown()
	return nil
}

// Shutdown tears down whatever is in progress and closes the event stream.
// It is idempotent. A dial that completes afterwards is closed at once.
func (c *Controller) Shutdown() {
	if c.shutdown {
		return
	}
	close(c.quit)

	if c.State() != StateIdle || c.session != nil || c.cancel != nil {
		if st := c.State(); st == StateNegotiating || st == StateConnecting {
			c.metrics.Sessions.WithLabelValues(metrics.OutcomeCancelled).Inc()
		}
		c.teardown()
	}
	c.shutdown = true

	c.eventsMu.Lock()
	c.eventsClosed = true
	close(c.events)
	c.eventsMu.Unlock()

	c.logger.Info("controller shut down")
}

// Tick advances the controller by one control-loop iteration: it applies
// finished background steps and pending toggle requests, watches the
// transport, and moves newly captured audio to the transport.
func (c *Controller) Tick() {
	if c.shutdown {
		return
	}

drain:
	for {
		select {
		case r := <-c.results:
			c.apply(r)
		default:
			break drain
		}
	}

	select {
	case <-c.requests:
		if err := c.Toggle(context.Background()); err != nil {
			c.logger.Info("toggle request ignored", "error", err)
		}
	default:
	}

	if c.State() == StateActive {
		select {
		case <-c.session.Done():
			c.transportEnded()
		default:
			c.pumpCapture()
		}
	}

	c.observeQueue()
}

// deliver hands a background result to the control loop. After Shutdown
// nobody will read it, so a late transport is closed here.
func (c *Controller) deliver(r stageResult) {
	select {
	case c.results <- r:
	case <-c.quit:
		if r.session != nil {
			r.session.Close()
		}
	}
}

func (c *Controller) apply(r stageResult) {
	if r.attempt != c.AttemptID() || c.State() == StateIdle {
		// Result of an attempt that was already torn down.
		if r.session != nil {
			r.session.Close()
		}
		return
	}

	switch r.stage {
	case stageNegotiated:
		c.applyNegotiated(r)
	case stageOpened:
		c.applyOpened(r)
	}
}

func (c *Controller) applyNegotiated(r stageResult) {
	c.metrics.NegotiateSeconds.Observe(r.elapsed.Seconds())
	if r.err != nil {
		c.metrics.Sessions.WithLabelValues(metrics.OutcomeNegotiationFailed).Inc()
		c.abort()
		c.emit(EventNegotiationFailed, r.err, "")
		return
	}

	c.callID.Store(r.call.CallID)
	c.setState(StateConnecting)

	attempt := r.attempt
	endpoint := r.call.Endpoint
	ctx := c.attemptCtx
	handlers := transport.Handlers{
		OnBinary: func(data []byte) { c.receive(attempt, data) },
		OnText: func(text string) {
			c.emitFrom(attempt, EventTransportText, nil, text)
		},
	}
	opts := append([]transport.Option{transport.WithLogger(c.cfg.Logger)}, c.cfg.TransportOptions...)

	go func() {
		start := time.Now()
		s, err := transport.Open(ctx, endpoint, handlers, opts...)
		c.deliver(stageResult{
			attempt: attempt,
			stage:   stageOpened,
			session: s,
			err:     err,
			elapsed: time.Since(start),
		})
	}()
}

func (c *Controller) applyOpened(r stageResult) {
	c.metrics.ConnectSeconds.Observe(r.elapsed.Seconds())
	if r.err != nil {
		c.metrics.Sessions.WithLabelValues(metrics.OutcomeConnectFailed).Inc()
		c.abort()
		c.emit(EventConnectFailed, r.err, "")
		return
	}

	c.session = r.session
	c.live.Store(r.session)

	if err := c.sampler.Start(c.mic); err != nil {
		c.metrics.Sessions.WithLabelValues(metrics.OutcomeConnectFailed).Inc()
		c.teardown()
		c.emit(EventConnectFailed, err, "microphone")
		return
	}
	if err := c.sink.Install(c.render); err != nil {
		c.metrics.Sessions.WithLabelValues(metrics.OutcomeConnectFailed).Inc()
		c.teardown()
		c.emit(EventConnectFailed, err, "audio sink")
		return
	}
	c.sinkInstalled = true

	c.metrics.Sessions.WithLabelValues(metrics.OutcomeConnected).Inc()
	c.activeSince.Store(time.Now().UnixNano())
	c.setState(StateActive)
	c.emit(EventConnected, nil, c.callID.Load().(string))
}

// abort returns a failed attempt to Idle before anything was acquired.
func (c *Controller) abort() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.attemptCtx = nil
	c.setState(StateIdle)
}

// transportEnded handles the receive loop exiting while Active.
func (c *Controller) transportEnded() {
	err := c.session.Err()
	c.setState(StateDisconnecting)
	if err == nil || transport.IsClosedByPeer(err) {
		c.emit(EventConnectionClosed, err, "")
	} else {
		c.emit(EventTransportFailure, err, "")
	}
	c.teardown()
}

// teardown releases everything in a fixed order and ends in Idle. It is
// safe to call from any state and more than once.
func (c *Controller) teardown() {
	wasActive := c.activeSince.Load() != 0
	c.setState(StateDisconnecting)

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.attemptCtx = nil

	// Stop capture before the transport so no tick sees a closed session.
	if err := c.sampler.Stop(); err != nil {
		c.logger.Warn("stop capture failed", "error", err)
	}

	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.logger.Warn("close transport failed", "error", err)
		}
		st := c.session.Stats()
		c.logger.Info("session ended",
			"attempt_id", c.AttemptID(),
			"frames_sent", st.FramesSent,
			"frames_received", st.FramesReceived,
		)
		c.session = nil
	}

	if c.sinkInstalled {
		if err := c.sink.Uninstall(); err != nil {
			c.logger.Warn("uninstall sink failed", "error", err)
		}
		c.sinkInstalled = false
	}

	c.queue.Clear()

	if since := c.activeSince.Swap(0); since != 0 {
		c.metrics.SessionSeconds.Observe(time.Since(time.Unix(0, since)).Seconds())
	}
	c.live.Store(nil)
	c.setState(StateIdle)

	if wasActive {
		c.emit(EventDisconnected, nil, "")
	}
}

// pumpCapture sends the audio captured since the last tick.
func (c *Controller) pumpCapture() {
	samples, err := c.sampler.Tick()
	switch {
	case errors.Is(err, capture.ErrCaptureOverrun):
		c.metrics.CaptureOverruns.Inc()
		c.emit(EventCaptureOverrun, err, "")
	case err != nil:
		c.logger.Warn("capture tick failed", "error", err)
		return
	}
	if len(samples) == 0 {
		return
	}

	pcm.ApplyGain(samples, c.cfg.Gain)
	frame := pcm.Encode(samples)
	if err := c.session.Send(frame); err != nil {
		c.metrics.SendFailures.Inc()
		c.emit(EventSendFailed, err, "")
		return
	}
	c.metrics.FramesSent.Inc()
	c.metrics.BytesSent.Add(float64(len(frame)))
}

// receive runs on the transport's receive loop.
func (c *Controller) receive(attempt string, data []byte) {
	samples, err := pcm.Decode(data)
	if err != nil {
		c.metrics.MalformedFrames.Inc()
		c.emitFrom(attempt, EventMalformedFrame, err, fmt.Sprintf("%d bytes", len(data)))
		return
	}

	c.metrics.FramesReceived.Inc()
	if dropped := c.queue.PushMany(samples); dropped > 0 {
		c.metrics.QueueDropped.Add(float64(dropped))
		c.emitFrom(attempt, EventPlaybackOverflow, nil, fmt.Sprintf("%d samples dropped", dropped))
	}
}

// render runs on the audio device clock.
func (c *Controller) render(out []float32) {
	n := c.queue.Fill(out)
	if v := c.cfg.Volume; v != 1 {
		for i := range out[:n] {
			out[i] *= v
		}
	}
}

func (c *Controller) observeQueue() {
	st := c.queue.Stats()
	c.metrics.QueueDepth.Set(float64(st.Buffered))
	if d := st.Underruns - c.lastUnderruns; d > 0 {
		c.metrics.QueueUnderrun.Add(float64(d))
	}
	c.lastUnderruns = st.Underruns
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.metrics.State.Set(float64(s))
	c.emit(EventStateChanged, nil, prev.String()+" -> "+s.String())
}

func (c *Controller) emit(kind EventKind, err error, detail string) {
	c.emitFrom(c.AttemptID(), kind, err, detail)
}

// emitFrom publishes an event without blocking.
func (c *Controller) emitFrom(attempt string, kind EventKind, err error, detail string) {
	ev := Event{
		Kind:      kind,
		State:     c.State(),
		AttemptID: attempt,
		Err:       err,
		Detail:    detail,
		Time:      time.Now(),
	}

	attrs := []any{"event", kind, "state", ev.State, "attempt_id", attempt}
	if detail != "" {
		attrs = append(attrs, "detail", detail)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	c.logger.Log(context.Background(), kind.level(), "call event", attrs...)

	c.metrics.Events.WithLabelValues(string(kind)).Inc()

	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.metrics.EventsDropped.Inc()
	}
}
