package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"stoflow/internal/models"
)

// VintedClient talks to Vinted through the browser-extension relay. Every
// call is executed by the tenant's browser against the real site, so the
// client sees HTTP-like status codes but none of the usual transport
// guarantees.
type VintedClient struct {
	relay   RelayCaller
	timeout time.Duration
}

func NewVintedClient(relay RelayCaller, timeout time.Duration) *VintedClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VintedClient{relay: relay, timeout: timeout}
}

// call relays one request and maps the response status to the failure
// vocabulary. Relay-level errors (timeout, disconnect, challenge) arrive
// already classified.
func (v *VintedClient) call(ctx context.Context, tenantID, method, path string, payload interface{}) (json.RawMessage, error) {
	resp, err := v.relay.Call(ctx, tenantID, method, path, payload, v.timeout)
	if err != nil {
		return nil, err
	}

	var failure *Failure
	switch {
	case resp.Status >= 200 && resp.Status < 300:
		return resp.Data, nil
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		failure = NewFailure(FailureAuth, "vinted session is logged out (status %d)", resp.Status)
	case resp.Status == http.StatusTooManyRequests:
		failure = NewFailure(FailureRetryable, "vinted rate limited the request")
	case resp.Status >= 400 && resp.Status < 500:
		failure = NewFailure(FailurePermanent, "vinted rejected the request (status %d): %s", resp.Status, truncateBody(resp.Data))
	default:
		failure = NewFailure(FailureRetryable, "vinted returned status %d", resp.Status)
	}
	failure.Status = resp.Status
	return nil, failure
}

// GetListing fetches a listing by its Vinted item id.
func (v *VintedClient) GetListing(ctx context.Context, tenantID, itemID string) (json.RawMessage, error) {
	return v.call(ctx, tenantID, http.MethodGet, "/api/v2/items/"+itemID, nil)
}

// PublishListing creates a new listing from the job's product snapshot.
func (v *VintedClient) PublishListing(ctx context.Context, tenantID string, listing map[string]interface{}) (json.RawMessage, error) {
	return v.call(ctx, tenantID, http.MethodPost, "/api/v2/items", map[string]interface{}{"item": listing})
}

// UpdateListing replaces an existing listing.
func (v *VintedClient) UpdateListing(ctx context.Context, tenantID, itemID string, listing map[string]interface{}) (json.RawMessage, error) {
	return v.call(ctx, tenantID, http.MethodPut, "/api/v2/items/"+itemID, map[string]interface{}{"item": listing})
}

// DeleteListing removes a listing. A missing listing is treated as
// already deleted.
func (v *VintedClient) DeleteListing(ctx context.Context, tenantID, itemID string) error {
	_, err := v.call(ctx, tenantID, http.MethodDelete, "/api/v2/items/"+itemID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// FetchOrders pulls the tenant's recent sales.
func (v *VintedClient) FetchOrders(ctx context.Context, tenantID string, page int) (json.RawMessage, error) {
	return v.call(ctx, tenantID, http.MethodGet, fmt.Sprintf("/api/v2/transactions?page=%d", page), nil)
}

// SendMessage posts a message on a conversation thread.
func (v *VintedClient) SendMessage(ctx context.Context, tenantID, conversationID, body string) (json.RawMessage, error) {
	return v.call(ctx, tenantID, http.MethodPost, "/api/v2/conversations/"+conversationID+"/replies", map[string]interface{}{
		"reply": map[string]string{"body": body},
	})
}

// CurrentUser fetches the session's account, used to verify a freshly
// linked extension.
func (v *VintedClient) CurrentUser(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return v.call(ctx, tenantID, http.MethodGet, "/api/v2/users/current", nil)
}

func isNotFound(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Status == http.StatusNotFound
}

// vintedListingPayload is the generic product snapshot a job carries for
// publish/update actions.
type vintedListingPayload struct {
	ExternalID string                 `json:"external_id,omitempty"`
	Listing    map[string]interface{} `json:"listing"`
}

func decodeVintedListing(job *models.Job) (*vintedListingPayload, error) {
	var payload vintedListingPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if len(payload.Listing) == 0 {
		return nil, NewFailure(FailurePermanent, "payload is missing the listing snapshot")
	}
	return &payload, nil
}

// VintedPublishHandler creates a listing. Publish is not idempotent on
// the Vinted side and the relay cannot guarantee at-most-once delivery
// after a timeout, so a retry first checks whether the previous attempt
// already went through.
type VintedPublishHandler struct {
	client *VintedClient
}

func (h *VintedPublishHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	payload, err := decodeVintedListing(job)
	if err != nil {
		return nil, err
	}

	if payload.ExternalID != "" && job.AttemptCount > 0 {
		if raw, err := h.client.GetListing(ctx, job.TenantID, payload.ExternalID); err == nil {
			return &Result{ExternalID: payload.ExternalID, Data: rawToMap(raw)}, nil
		}
	}

	raw, err := h.client.PublishListing(ctx, job.TenantID, payload.Listing)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: extractItemID(raw), Data: rawToMap(raw)}, nil
}

// VintedUpdateHandler replaces a published listing.
type VintedUpdateHandler struct {
	client *VintedClient
}

func (h *VintedUpdateHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	payload, err := decodeVintedListing(job)
	if err != nil {
		return nil, err
	}
	if payload.ExternalID == "" {
		return nil, NewFailure(FailurePermanent, "update requires an external listing id")
	}

	raw, err := h.client.UpdateListing(ctx, job.TenantID, payload.ExternalID, payload.Listing)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: payload.ExternalID, Data: rawToMap(raw)}, nil
}

// VintedDeleteHandler removes a published listing.
type VintedDeleteHandler struct {
	client *VintedClient
}

func (h *VintedDeleteHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	var payload struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if payload.ExternalID == "" {
		return nil, NewFailure(FailurePermanent, "delete requires an external listing id")
	}

	if err := h.client.DeleteListing(ctx, job.TenantID, payload.ExternalID); err != nil {
		return nil, err
	}
	return &Result{ExternalID: payload.ExternalID}, nil
}

// VintedSyncHandler refreshes the local snapshot of one listing.
type VintedSyncHandler struct {
	client *VintedClient
}

func (h *VintedSyncHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	var payload struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if payload.ExternalID == "" {
		return nil, NewFailure(FailurePermanent, "sync requires an external listing id")
	}

	raw, err := h.client.GetListing(ctx, job.TenantID, payload.ExternalID)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: payload.ExternalID, Data: rawToMap(raw)}, nil
}

// VintedSyncOrdersHandler imports recent sales. Account-level: the job
// has no subject.
type VintedSyncOrdersHandler struct {
	client *VintedClient
}

func (h *VintedSyncOrdersHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	var payload struct {
		Page int `json:"page"`
	}
	if job.Payload != "" {
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
		}
	}
	if payload.Page <= 0 {
		payload.Page = 1
	}

	raw, err := h.client.FetchOrders(ctx, job.TenantID, payload.Page)
	if err != nil {
		return nil, err
	}
	return &Result{Data: rawToMap(raw)}, nil
}

// VintedMessageHandler replies on a buyer conversation.
type VintedMessageHandler struct {
	client *VintedClient
}

func (h *VintedMessageHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
		Body           string `json:"body"`
	}
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if payload.ConversationID == "" || payload.Body == "" {
		return nil, NewFailure(FailurePermanent, "message requires conversation_id and body")
	}

	raw, err := h.client.SendMessage(ctx, job.TenantID, payload.ConversationID, payload.Body)
	if err != nil {
		return nil, err
	}
	return &Result{Data: rawToMap(raw)}, nil
}

// VintedLinkHandler verifies a freshly connected extension session by
// fetching the logged-in account.
type VintedLinkHandler struct {
	client *VintedClient
}

func (h *VintedLinkHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	raw, err := h.client.CurrentUser(ctx, job.TenantID)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: extractUserID(raw), Data: rawToMap(raw)}, nil
}
