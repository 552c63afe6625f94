package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stoflow/internal/models"
)

// scriptedRelay answers each call from a queue and records what it saw.
type scriptedRelay struct {
	responses []*RelayResponse
	errs      []error
	calls     []string
}

func (s *scriptedRelay) Call(ctx context.Context, tenantID, method, path string, payload interface{}, timeout time.Duration) (*RelayResponse, error) {
	s.calls = append(s.calls, method+" "+path)
	i := len(s.calls) - 1
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp *RelayResponse
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

func TestVintedCallStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   FailureKind
	}{
		{"logged out", http.StatusUnauthorized, FailureAuth},
		{"forbidden", http.StatusForbidden, FailureAuth},
		{"rate limited", http.StatusTooManyRequests, FailureRetryable},
		{"validation reject", http.StatusUnprocessableEntity, FailurePermanent},
		{"server error", http.StatusBadGateway, FailureRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := &scriptedRelay{responses: []*RelayResponse{{Status: tt.status}}}
			client := NewVintedClient(relay, time.Second)

			_, err := client.GetListing(context.Background(), "tenant-1", "42")
			require.Error(t, err)

			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.status, f.Status)
		})
	}
}

func TestVintedDeleteTreatsMissingAsDeleted(t *testing.T) {
	relay := &scriptedRelay{responses: []*RelayResponse{{Status: http.StatusNotFound}}}
	client := NewVintedClient(relay, time.Second)

	assert.NoError(t, client.DeleteListing(context.Background(), "tenant-1", "42"))
}

func TestVintedPublishRetryChecksExistingListing(t *testing.T) {
	relay := &scriptedRelay{responses: []*RelayResponse{
		{Status: 200, Data: json.RawMessage(`{"item":{"id":99}}`)},
	}}
	h := &VintedPublishHandler{client: NewVintedClient(relay, time.Second)}

	job := &models.Job{
		TenantID:     "tenant-1",
		AttemptCount: 1,
		Payload:      `{"external_id":"99","listing":{"title":"jacket"}}`,
	}
	result, err := h.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "99", result.ExternalID)
	require.Len(t, relay.calls, 1)
	assert.Equal(t, "GET /api/v2/items/99", relay.calls[0], "retry must probe before publishing again")
}

func TestVintedPublishFirstAttemptCreates(t *testing.T) {
	relay := &scriptedRelay{responses: []*RelayResponse{
		{Status: 200, Data: json.RawMessage(`{"item":{"id":7}}`)},
	}}
	h := &VintedPublishHandler{client: NewVintedClient(relay, time.Second)}

	job := &models.Job{TenantID: "tenant-1", Payload: `{"listing":{"title":"jacket"}}`}
	result, err := h.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "7", result.ExternalID)
	require.Len(t, relay.calls, 1)
	assert.Equal(t, "POST /api/v2/items", relay.calls[0])
}

func TestVintedHandlersRejectMalformedPayload(t *testing.T) {
	relay := &scriptedRelay{}
	client := NewVintedClient(relay, time.Second)

	handlers := []Handler{
		&VintedPublishHandler{client: client},
		&VintedUpdateHandler{client: client},
		&VintedDeleteHandler{client: client},
		&VintedSyncHandler{client: client},
		&VintedMessageHandler{client: client},
	}
	for _, h := range handlers {
		_, err := h.Execute(context.Background(), &models.Job{TenantID: "tenant-1", Payload: `{broken`})
		require.Error(t, err)
		assert.Equal(t, FailurePermanent, Classify(err))
	}
	assert.Empty(t, relay.calls, "malformed payloads never reach the relay")
}

func TestVintedUpdateRequiresExternalID(t *testing.T) {
	h := &VintedUpdateHandler{client: NewVintedClient(&scriptedRelay{}, time.Second)}
	_, err := h.Execute(context.Background(), &models.Job{Payload: `{"listing":{"title":"x"}}`})
	require.Error(t, err)
	assert.Equal(t, FailurePermanent, Classify(err))
}
