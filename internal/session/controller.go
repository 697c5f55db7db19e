// ABOUTME: Controller owns one conversation: its transcript, status and in-flight request.
// ABOUTME: Submit starts a streamed request; events are applied to the transcript as they arrive.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-gateway/internal/transcript"
	"github.com/2389/chat-gateway/internal/wire"
)

// DefaultMaxPayloadBytes bounds the encoded size of one request.
const DefaultMaxPayloadBytes = 50 << 20

var (
	// ErrBusy is returned by Submit while a request is in flight.
	ErrBusy = errors.New("a request is already in flight")
	// ErrPayloadTooLarge is returned by Submit before any transport call
	// when the request would exceed the payload limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrStepLimitExceeded is the warning recorded when the server stopped
	// at its step limit.
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	// ErrEmptySubmit is returned by Submit without parts.
	ErrEmptySubmit = errors.New("nothing to submit")
)

// Status is the controller lifecycle state.
type Status string

// Lifecycle states.
const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
)

// EventType discriminates controller events.
type EventType string

// Event types.
const (
	EventStatus EventType = "status"
	EventPart   EventType = "part"
)

// Event is published to subscribers on every status change and every
// applied part.
type Event struct {
	Type      EventType
	Status    Status
	MessageID string
	Part      transcript.Part
	Err       error
}

// Transport sends a chat request and streams back its events.
type Transport interface {
	Stream(ctx context.Context, req *wire.ChatRequest) (EventStream, error)
}

// EventStream yields decoded events. Next returns io.EOF after finish.
type EventStream interface {
	Next() (wire.Event, error)
	Close() error
}

// RemoteCanceler is implemented by transports that can cancel a request
// on the server by ID.
type RemoteCanceler interface {
	CancelRemote(ctx context.Context, requestID string) error
}

// Config configures a Controller.
type Config struct {
	Transport       Transport
	MaxPayloadBytes int64
	// RequestTimeout bounds one request end to end. Zero means no limit.
	RequestTimeout time.Duration
	StepLimit      int
	Tools          []string
	System         string
	Reasoning      bool
	Context        json.RawMessage
	Logger         *slog.Logger
}

// Controller is the client side of one conversation. All methods are safe
// for concurrent use.
type Controller struct {
	cfg       Config
	transport Transport
	store     *transcript.Store
	bus       *Broadcaster
	logger    *slog.Logger

	mu        sync.Mutex
	status    Status
	err       error
	warning   error
	gen       uint64 // bumped on cancel/reset; stale request goroutines check it
	cancel    context.CancelFunc
	done      chan struct{}
	requestID string
	messageID string
	convID    string
}

// New creates a Controller in the idle state.
func New(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session needs a transport")
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")
	return &Controller{
		cfg:       cfg,
		transport: cfg.Transport,
		store:     transcript.NewStore(),
		bus:       NewBroadcaster(logger),
		logger:    logger,
		status:    StatusIdle,
		convID:    uuid.NewString(),
	}, nil
}

// SubmitAttachments submits text plus attachments. The payload limit is
// checked before any attachment is encoded.
func (c *Controller) SubmitAttachments(ctx context.Context, text string, atts ...Attachment) error {
	var extra int64
	for _, a := range atts {
		extra += a.EncodedSize()
	}
	if err := c.checkPayload(extra + int64(len(text))); err != nil {
		return err
	}

	var parts []transcript.Part
	if text != "" {
		parts = append(parts, transcript.TextPart{Text: text})
	}
	for _, a := range atts {
		parts = append(parts, a.Part())
	}
	return c.Submit(ctx, parts...)
}

// Submit appends a user message with parts and starts a request for the
// assistant reply. It returns once the request is started. A request whose
// encoded body exceeds the payload limit fails with ErrPayloadTooLarge and
// leaves the transcript untouched.
func (c *Controller) Submit(ctx context.Context, parts ...transcript.Part) error {
	if len(parts) == 0 {
		return ErrEmptySubmit
	}
	for _, p := range parts {
		if p == nil {
			return fmt.Errorf("submit: %w", transcript.ErrNilPart)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusSubmitted || c.status == StatusStreaming {
		return ErrBusy
	}

	user := transcript.Message{ID: uuid.NewString(), Role: transcript.RoleUser, Parts: parts, Sealed: true}
	req := &wire.ChatRequest{
		ID:             uuid.NewString(),
		ConversationID: c.convID,
		Messages:       append(c.store.Messages(), user),
		StepLimit:      c.cfg.StepLimit,
		System:         c.cfg.System,
		Reasoning:      c.cfg.Reasoning,
		Context:        c.cfg.Context,
	}
	if c.cfg.Tools != nil {
		req.ToolConfig = &wire.ToolConfig{Tools: c.cfg.Tools}
	}
	if err := c.checkRequestSize(req); err != nil {
		return err
	}

	c.store.SealOpen()
	if _, err := c.store.Append(user); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	history := c.store.Messages()
	req.Messages = history

	assistantID := uuid.NewString()
	if err := c.store.OpenWithID(assistantID, transcript.RoleAssistant); err != nil {
		return fmt.Errorf("open assistant message: %w", err)
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if c.cfg.RequestTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	c.gen++
	c.cancel = cancel
	c.done = make(chan struct{})
	c.requestID = req.ID
	c.messageID = assistantID
	c.err = nil
	c.warning = nil
	c.setStatusLocked(StatusSubmitted)

	c.logger.Info("→ request submitted", "request_id", req.ID, "message_id", assistantID, "messages", len(history))
	go c.consume(runCtx, c.gen, req, assistantID, c.done)
	return nil
}

// checkRequestSize rejects a request whose encoded body exceeds the limit.
func (c *Controller) checkRequestSize(req *wire.ChatRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if n := int64(len(body)); n > c.cfg.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, n, c.cfg.MaxPayloadBytes)
	}
	return nil
}

// checkPayload rejects early when the history plus extra raw bytes already
// exceed the limit, before attachments are encoded.
func (c *Controller) checkPayload(extra int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkPayloadLocked(extra)
}

func (c *Controller) checkPayloadLocked(extra int64) error {
	total := extra
	for _, m := range c.store.Messages() {
		total += partsSize(m.Parts)
	}
	if total > c.cfg.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, total, c.cfg.MaxPayloadBytes)
	}
	return nil
}

// partsSize is a lower bound on the encoded size of parts.
func partsSize(parts []transcript.Part) int64 {
	var n int64
	for _, p := range parts {
		switch v := p.(type) {
		case transcript.TextPart:
			n += int64(len(v.Text))
		case transcript.ReasoningPart:
			n += int64(len(v.Text))
		case transcript.FilePart:
			n += int64(len(v.URL) + len(v.MediaType) + len(v.Filename))
		case transcript.SourceURLPart:
			n += int64(len(v.URL) + len(v.Title))
		case transcript.ToolCallPart:
			n += int64(len(v.ToolName) + len(v.CallID) + len(v.Input))
		case transcript.ToolResultPart:
			n += int64(len(v.CallID) + len(v.Output))
			if v.Error != nil {
				n += int64(len(v.Error.Code) + len(v.Error.Message))
			}
		}
	}
	return n
}

// consume reads the stream for one request until finish, error or cancel.
func (c *Controller) consume(ctx context.Context, gen uint64, req *wire.ChatRequest, messageID string, done chan struct{}) {
	defer close(done)
	logger := c.logger.With("request_id", req.ID, "message_id", messageID)

	stream, err := c.transport.Stream(ctx, req)
	if err != nil {
		c.fail(gen, messageID, fmt.Errorf("transport: %w", err))
		return
	}
	defer func() { _ = stream.Close() }()

	applier := wire.NewApplier(c.store, messageID)
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) && applier.Finished() {
			return
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("%w: %w", err, ctxErr)
			}
			c.fail(gen, messageID, err)
			return
		}

		stop, err := c.apply(gen, applier, messageID, ev)
		if err != nil {
			c.fail(gen, messageID, err)
			return
		}
		if stop {
			if applier.Finished() {
				logger.Info("← request finished", "status", applier.Status(), "steps", applier.Steps())
			}
			return
		}
	}
}

// apply applies one event under the lock. It reports whether the request
// is over, either by finish or because it was cancelled.
func (c *Controller) apply(gen uint64, applier *wire.Applier, messageID string, ev wire.Event) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return true, nil
	}
	if c.status == StatusSubmitted {
		c.setStatusLocked(StatusStreaming)
	}
	if err := applier.Apply(ev); err != nil {
		return false, err
	}

	if part, ok := ev.Part(); ok {
		c.bus.Publish(Event{Type: EventPart, MessageID: messageID, Part: part})
	}
	if !applier.Finished() {
		return false, nil
	}

	_ = c.store.Seal(messageID)
	if applier.Status() == wire.FinishStepLimit {
		c.warning = ErrStepLimitExceeded
	}
	c.cancel()
	c.setStatusLocked(StatusReady)
	return true, nil
}

// fail seals the partial message and moves to the error state.
func (c *Controller) fail(gen uint64, messageID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	_ = c.store.Seal(messageID)
	c.err = err
	c.cancel()
	c.logger.Warn("request failed", "message_id", messageID, "error", err)
	c.setStatusLocked(StatusError)
}

// Cancel stops the in-flight request, keeps the partial assistant message
// sealed and moves to ready. It is a no-op when nothing is in flight.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusSubmitted && c.status != StatusStreaming {
		return
	}
	c.stopLocked()
	_ = c.store.Seal(c.messageID)
	c.logger.Info("request cancelled", "request_id", c.requestID, "message_id", c.messageID)
	c.setStatusLocked(StatusReady)
}

// stopLocked detaches the running request and aborts its transport.
func (c *Controller) stopLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
	}
	if rc, ok := c.transport.(RemoteCanceler); ok && c.requestID != "" {
		id := c.requestID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rc.CancelRemote(ctx, id); err != nil {
				c.logger.Debug("remote cancel failed", "request_id", id, "error", err)
			}
		}()
	}
}

// Reset cancels any in-flight request and clears the transcript.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusSubmitted || c.status == StatusStreaming {
		c.stopLocked()
	}
	c.store.Reset()
	c.err = nil
	c.warning = nil
	c.requestID = ""
	c.messageID = ""
	c.convID = uuid.NewString()
	c.setStatusLocked(StatusIdle)
}

// Wait blocks until the current request is no longer consuming events.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel of controller events that is closed when ctx
// is cancelled or the controller is closed.
func (c *Controller) Subscribe(ctx context.Context) <-chan Event {
	ch, _ := c.bus.Subscribe(ctx)
	return ch
}

// Close cancels any in-flight request and closes subscriber channels.
func (c *Controller) Close() {
	c.Cancel()
	c.bus.Close()
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that moved the controller to StatusError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Warning returns ErrStepLimitExceeded when the last request stopped at
// the server's step limit.
func (c *Controller) Warning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warning
}

// Transcript returns a copy of all messages.
func (c *Controller) Transcript() []transcript.Message {
	return c.store.Messages()
}

func (c *Controller) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.logger.Debug("status changed", "from", c.status, "to", s)
	c.status = s
	c.bus.Publish(Event{Type: EventStatus, Status: s, MessageID: c.messageID, Err: c.err})
}
