package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"stoflow/internal/models"
)

// EbayClient talks to the eBay Sell APIs through the OAuth2 transport.
// Auth failures (including a failed token refresh) arrive from the
// transport already classified.
type EbayClient struct {
	api HTTPCaller
}

func NewEbayClient(api HTTPCaller) *EbayClient {
	return &EbayClient{api: api}
}

func (e *EbayClient) call(ctx context.Context, tenantID, method, path string, body interface{}) (json.RawMessage, error) {
	resp, err := e.api.Call(ctx, tenantID, method, path, body)
	if err != nil {
		return nil, err
	}
	return mapDirectResponse("ebay", resp)
}

// mapDirectResponse translates a direct HTTP marketplace response into
// the generic failure vocabulary. Shared by the eBay and Etsy clients.
func mapDirectResponse(name string, resp *HTTPResponse) (json.RawMessage, error) {
	var failure *Failure
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		failure = NewFailure(FailureAuth, "%s credentials rejected (status %d)", name, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		failure = NewFailure(FailureRetryable, "%s rate limited the request", name)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		failure = NewFailure(FailurePermanent, "%s rejected the request (status %d): %s", name, resp.StatusCode, truncateBody(resp.Body))
	default:
		failure = NewFailure(FailureRetryable, "%s returned status %d", name, resp.StatusCode)
	}
	failure.Status = resp.StatusCode
	return nil, failure
}

func (e *EbayClient) CreateOffer(ctx context.Context, tenantID string, offer map[string]interface{}) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodPost, "/sell/inventory/v1/offer", offer)
}

func (e *EbayClient) GetOffer(ctx context.Context, tenantID, offerID string) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodGet, "/sell/inventory/v1/offer/"+offerID, nil)
}

func (e *EbayClient) UpdateOffer(ctx context.Context, tenantID, offerID string, offer map[string]interface{}) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodPut, "/sell/inventory/v1/offer/"+offerID, offer)
}

func (e *EbayClient) PublishOffer(ctx context.Context, tenantID, offerID string) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodPost, "/sell/inventory/v1/offer/"+offerID+"/publish", nil)
}

func (e *EbayClient) WithdrawOffer(ctx context.Context, tenantID, offerID string) error {
	_, err := e.call(ctx, tenantID, http.MethodPost, "/sell/inventory/v1/offer/"+offerID+"/withdraw", nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (e *EbayClient) GetOrders(ctx context.Context, tenantID string, limit int) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodGet, fmt.Sprintf("/sell/fulfillment/v1/order?limit=%d", limit), nil)
}

// ebayOfferPayload is the generic snapshot carried by publish/update jobs.
type ebayOfferPayload struct {
	ExternalID string                 `json:"external_id,omitempty"`
	Offer      map[string]interface{} `json:"offer"`
}

func decodeEbayOffer(job *models.Job) (*ebayOfferPayload, error) {
	var payload ebayOfferPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if len(payload.Offer) == 0 {
		return nil, NewFailure(FailurePermanent, "payload is missing the offer snapshot")
	}
	return &payload, nil
}

// EbayPublishHandler creates an offer and publishes it as a live listing.
type EbayPublishHandler struct {
	client *EbayClient
}

func (h *EbayPublishHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	payload, err := decodeEbayOffer(job)
	if err != nil {
		return nil, err
	}

	offerID := payload.ExternalID
	if offerID == "" {
		raw, err := h.client.CreateOffer(ctx, job.TenantID, payload.Offer)
		if err != nil {
			return nil, err
		}
		offerID = extractOfferID(raw)
		if offerID == "" {
			return nil, NewFailure(FailurePermanent, "ebay did not return an offer id")
		}
	}

	raw, err := h.client.PublishOffer(ctx, job.TenantID, offerID)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: offerID, Data: rawToMap(raw)}, nil
}

// EbayUpdateHandler replaces an existing offer.
type EbayUpdateHandler struct {
	client *EbayClient
}

func (h *EbayUpdateHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	payload, err := decodeEbayOffer(job)
	if err != nil {
		return nil, err
	}
	if payload.ExternalID == "" {
		return nil, NewFailure(FailurePermanent, "update requires an external offer id")
	}

	raw, err := h.client.UpdateOffer(ctx, job.TenantID, payload.ExternalID, payload.Offer)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: payload.ExternalID, Data: rawToMap(raw)}, nil
}

// EbayDeleteHandler withdraws a live offer.
type EbayDeleteHandler struct {
	client *EbayClient
}

func (h *EbayDeleteHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	var payload struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if payload.ExternalID == "" {
		return nil, NewFailure(FailurePermanent, "delete requires an external offer id")
	}

	if err := h.client.WithdrawOffer(ctx, job.TenantID, payload.ExternalID); err != nil {
		return nil, err
	}
	return &Result{ExternalID: payload.ExternalID}, nil
}

// EbaySyncHandler refreshes the local snapshot of one offer.
type EbaySyncHandler struct {
	client *EbayClient
}

func (h *EbaySyncHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	var payload struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if payload.ExternalID == "" {
		return nil, NewFailure(FailurePermanent, "sync requires an external offer id")
	}

	raw, err := h.client.GetOffer(ctx, job.TenantID, payload.ExternalID)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: payload.ExternalID, Data: rawToMap(raw)}, nil
}

// EbaySyncOrdersHandler imports recent orders. Account-level action.
type EbaySyncOrdersHandler struct {
	client *EbayClient
}

func (h *EbaySyncOrdersHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	var payload struct {
		Limit int `json:"limit"`
	}
	if job.Payload != "" {
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = 50
	}

	raw, err := h.client.GetOrders(ctx, job.TenantID, payload.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Data: rawToMap(raw)}, nil
}

func extractOfferID(raw json.RawMessage) string {
	m := rawToMap(raw)
	if m == nil {
		return ""
	}
	if id := stringifyID(m["offerId"]); id != "" {
		return id
	}
	return stringifyID(m["offer_id"])
}
