package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stoflow/internal/models"
)

// Supported marketplaces.
const (
	Vinted = "vinted"
	Ebay   = "ebay"
	Etsy   = "etsy"
)

// Action codes. The set is open: an action is valid when a handler is
// registered for the (marketplace, action) pair.
const (
	ActionPublish    = "publish"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionSync       = "sync"
	ActionSyncOrders = "sync_orders"
	ActionMessage    = "message"
	ActionLink       = "link"
)

// ValidMarketplace reports whether the identifier is a known marketplace.
func ValidMarketplace(m string) bool {
	switch m {
	case Vinted, Ebay, Etsy:
		return true
	}
	return false
}

// FailureKind classifies how the dispatcher should react to a failed
// handler execution.
type FailureKind string

const (
	// FailureRetryable covers transient problems: network timeouts,
	// marketplace 5xx, relay timeouts and disconnects.
	FailureRetryable FailureKind = "retryable"
	// FailurePermanent covers problems a retry cannot fix: missing
	// registration, malformed payload, marketplace validation rejects.
	FailurePermanent FailureKind = "permanent"
	// FailureAuth means the tenant must reconnect the marketplace; the
	// retry loop must not touch it.
	FailureAuth FailureKind = "auth"
	// FailureChallenge means the marketplace raised an anti-bot
	// challenge; the tenant is paused and the job requeued untouched.
	FailureChallenge FailureKind = "challenge"
)

// Failure is the tagged error handlers return across the dispatcher
// boundary. Handlers never panic or leak raw transport errors upward.
type Failure struct {
	Kind   FailureKind
	Reason string
	// Status carries the remote HTTP status when one was observed.
	Status int
}

func (f *Failure) Error() string {
	return f.Reason
}

// NewFailure builds a classified failure.
func NewFailure(kind FailureKind, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Classify extracts the failure kind from an error. Unclassified errors
// are treated as retryable so transient plumbing problems do not burn a
// job permanently.
func Classify(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureRetryable
}

// Result is a successful handler outcome. ExternalID carries the remote
// marketplace identifier when the action created or touched one.
type Result struct {
	ExternalID string                 `json:"external_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Handler translates one generic job into a marketplace-specific remote
// call. One implementation per (marketplace, action) pair.
type Handler interface {
	Execute(ctx context.Context, job *models.Job) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *models.Job) (*Result, error)

func (f HandlerFunc) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	return f(ctx, job)
}

// RelayResponse is the remote browser's answer to a relayed request.
type RelayResponse struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// RelayCaller performs a marketplace request through the browser
// extension relay. Implemented by relay.Transport.
type RelayCaller interface {
	Call(ctx context.Context, tenantID, method, path string, payload interface{}, timeout time.Duration) (*RelayResponse, error)
}

// HTTPResponse is the answer to a direct OAuth2 marketplace call.
type HTTPResponse struct {
	StatusCode int
	Body       json.RawMessage
}

// HTTPCaller performs a direct authenticated marketplace call for a
// tenant. Implemented by transport.OAuthClient.
type HTTPCaller interface {
	Call(ctx context.Context, tenantID, method, path string, body interface{}) (*HTTPResponse, error)
}
