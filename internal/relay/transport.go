package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stoflow/internal/marketplace"
)

// Event type identifiers on the relay channel.
const (
	EventRequest   = "request"
	EventResponse  = "response"
	EventError     = "error"
	EventChallenge = "challenge"
)

// RequestEvent is the outbound command addressed to a tenant's extension.
type RequestEvent struct {
	Type          string      `json:"type"`
	CorrelationID string      `json:"correlation_id"`
	Method        string      `json:"method"`
	Path          string      `json:"path"`
	Payload       interface{} `json:"payload,omitempty"`
}

// InboundEvent is anything the extension sends back: a response, an error
// or an anti-bot challenge report.
type InboundEvent struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Status        int             `json:"status"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Sender delivers an event to a tenant's connection room. Implemented by
// the Hub.
type Sender interface {
	SendToTenant(tenantID string, event interface{}) error
}

type callOutcome struct {
	resp *marketplace.RelayResponse
	err  error
}

// pendingCall is one in-flight correlation entry. The channel is buffered
// so the single resolver never blocks.
type pendingCall struct {
	tenantID string
	deadline time.Time
	ch       chan callOutcome
}

// Transport bridges the event-driven relay channel to a synchronous
// Call API via a correlation table. Entries are process-local: a restart
// loses them, and the owning jobs fail retryable through the sweep.
type Transport struct {
	sender      Sender
	logger      *zap.Logger
	onChallenge func(tenantID string)

	mu      sync.Mutex
	pending map[string]*pendingCall

	stop chan struct{}
	once sync.Once
}

func NewTransport(sender Sender, logger *zap.Logger) *Transport {
	t := &Transport{
		sender:  sender,
		logger:  logger,
		pending: make(map[string]*pendingCall),
		stop:    make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// SetChallengeHook registers the callback fired when a tenant's extension
// reports an anti-bot challenge. Called once at startup.
func (t *Transport) SetChallengeHook(fn func(tenantID string)) {
	t.onChallenge = fn
}

// Stop ends the timeout sweep and fails every in-flight call.
func (t *Transport) Stop() {
	t.once.Do(func() {
		close(t.stop)
		t.failAll("relay transport shutting down")
	})
}

// Call sends one command to the tenant's extension and waits for its
// correlated response. Exactly one of response, error or timeout resolves
// the call.
func (t *Transport) Call(ctx context.Context, tenantID, method, path string, payload interface{}, timeout time.Duration) (*marketplace.RelayResponse, error) {
	correlationID := uuid.NewString()
	call := &pendingCall{
		tenantID: tenantID,
		deadline: time.Now().Add(timeout),
		ch:       make(chan callOutcome, 1),
	}

	t.mu.Lock()
	t.pending[correlationID] = call
	t.mu.Unlock()

	event := RequestEvent{
		Type:          EventRequest,
		CorrelationID: correlationID,
		Method:        method,
		Path:          path,
		Payload:       payload,
	}
	if err := t.sender.SendToTenant(tenantID, event); err != nil {
		t.resolve(correlationID, callOutcome{
			err: marketplace.NewFailure(marketplace.FailureRetryable, "relay not connected for tenant %s: %v", tenantID, err),
		})
		outcome := <-call.ch
		return outcome.resp, outcome.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-call.ch:
		return outcome.resp, outcome.err
	case <-timer.C:
		t.resolve(correlationID, callOutcome{
			err: marketplace.NewFailure(marketplace.FailureRetryable, "relay call timed out after %s", timeout),
		})
		outcome := <-call.ch
		return outcome.resp, outcome.err
	case <-ctx.Done():
		t.resolve(correlationID, callOutcome{
			err: marketplace.NewFailure(marketplace.FailureRetryable, "relay call cancelled: %v", ctx.Err()),
		})
		outcome := <-call.ch
		return outcome.resp, outcome.err
	}
}

// resolve delivers the single terminal outcome for a correlation id. The
// entry is removed under lock before delivery, so a second resolution for
// the same id finds nothing and is a no-op.
func (t *Transport) resolve(correlationID string, outcome callOutcome) bool {
	t.mu.Lock()
	call, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	call.ch <- outcome
	return true
}

// HandleEvent processes one inbound relay event. Unknown or already
// resolved correlation ids are discarded quietly; the listener must never
// fail on late or stray events.
func (t *Transport) HandleEvent(tenantID string, raw []byte) {
	var event InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		t.logger.Warn("Discarding malformed relay event",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}

	switch event.Type {
	case EventResponse:
		delivered := t.resolve(event.CorrelationID, callOutcome{
			resp: &marketplace.RelayResponse{Status: event.Status, Data: event.Data},
		})
		if !delivered {
			t.logger.Debug("Discarding late relay response",
				zap.String("tenant_id", tenantID),
				zap.String("correlation_id", event.CorrelationID))
		}

	case EventError:
		t.resolve(event.CorrelationID, callOutcome{
			err: marketplace.NewFailure(marketplace.FailureRetryable, "extension reported an error: %s", event.Error),
		})

	case EventChallenge:
		t.logger.Warn("Anti-bot challenge reported",
			zap.String("tenant_id", tenantID),
			zap.String("correlation_id", event.CorrelationID))
		if t.onChallenge != nil {
			t.onChallenge(tenantID)
		}
		if event.CorrelationID != "" {
			t.resolve(event.CorrelationID, callOutcome{
				err: marketplace.NewFailure(marketplace.FailureChallenge, "anti-bot challenge detected"),
			})
		}

	default:
		t.logger.Debug("Ignoring unknown relay event type",
			zap.String("tenant_id", tenantID), zap.String("type", event.Type))
	}
}

// FailTenant resolves every in-flight call for a tenant as retryable.
// Called on disconnect: the extension cannot recover the original command
// after a reconnect, so waiting out the full timeout only adds latency.
func (t *Transport) FailTenant(tenantID, reason string) {
	for _, id := range t.collect(func(c *pendingCall) bool { return c.tenantID == tenantID }) {
		t.resolve(id, callOutcome{
			err: marketplace.NewFailure(marketplace.FailureRetryable, "relay connection lost: %s", reason),
		})
	}
}

func (t *Transport) failAll(reason string) {
	for _, id := range t.collect(func(*pendingCall) bool { return true }) {
		t.resolve(id, callOutcome{
			err: marketplace.NewFailure(marketplace.FailureRetryable, "%s", reason),
		})
	}
}

// PendingCount reports in-flight correlation entries, for tests and
// health reporting.
func (t *Transport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Transport) collect(match func(*pendingCall) bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, call := range t.pending {
		if match(call) {
			ids = append(ids, id)
		}
	}
	return ids
}

// sweepLoop times out orphaned entries whose caller is gone, e.g. after a
// worker crash mid-call.
func (t *Transport) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			now := time.Now()
			for _, id := range t.collect(func(c *pendingCall) bool { return c.deadline.Before(now) }) {
				t.resolve(id, callOutcome{
					err: marketplace.NewFailure(marketplace.FailureRetryable, "relay call deadline passed"),
				})
			}
		}
	}
}
