package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"stoflow/internal/models"
)

// EtsyClient talks to the Etsy Open API v3 through the OAuth2 transport.
type EtsyClient struct {
	api HTTPCaller
}

func NewEtsyClient(api HTTPCaller) *EtsyClient {
	return &EtsyClient{api: api}
}

func (e *EtsyClient) call(ctx context.Context, tenantID, method, path string, body interface{}) (json.RawMessage, error) {
	resp, err := e.api.Call(ctx, tenantID, method, path, body)
	if err != nil {
		return nil, err
	}
	return mapDirectResponse("etsy", resp)
}

func (e *EtsyClient) CreateListing(ctx context.Context, tenantID, shopID string, listing map[string]interface{}) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodPost, "/v3/application/shops/"+shopID+"/listings", listing)
}

func (e *EtsyClient) GetListing(ctx context.Context, tenantID, listingID string) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodGet, "/v3/application/listings/"+listingID, nil)
}

func (e *EtsyClient) UpdateListing(ctx context.Context, tenantID, shopID, listingID string, listing map[string]interface{}) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodPatch, "/v3/application/shops/"+shopID+"/listings/"+listingID, listing)
}

func (e *EtsyClient) DeleteListing(ctx context.Context, tenantID, listingID string) error {
	_, err := e.call(ctx, tenantID, http.MethodDelete, "/v3/application/listings/"+listingID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (e *EtsyClient) GetReceipts(ctx context.Context, tenantID, shopID string, limit int) (json.RawMessage, error) {
	return e.call(ctx, tenantID, http.MethodGet, fmt.Sprintf("/v3/application/shops/%s/receipts?limit=%d", shopID, limit), nil)
}

// etsyListingPayload is the generic snapshot carried by publish/update
// jobs. Etsy scopes listings under a shop, so the shop id travels with
// the payload.
type etsyListingPayload struct {
	ExternalID string                 `json:"external_id,omitempty"`
	ShopID     string                 `json:"shop_id"`
	Listing    map[string]interface{} `json:"listing"`
}

func decodeEtsyListing(job *models.Job) (*etsyListingPayload, error) {
	var payload etsyListingPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if payload.ShopID == "" {
		return nil, NewFailure(FailurePermanent, "payload is missing the shop id")
	}
	return &payload, nil
}

// EtsyPublishHandler creates a listing in the tenant's shop.
type EtsyPublishHandler struct {
	client *EtsyClient
}

func (h *EtsyPublishHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	payload, err := decodeEtsyListing(job)
	if err != nil {
		return nil, err
	}
	if len(payload.Listing) == 0 {
		return nil, NewFailure(FailurePermanent, "payload is missing the listing snapshot")
	}

	if payload.ExternalID != "" && job.AttemptCount > 0 {
		if raw, err := h.client.GetListing(ctx, job.TenantID, payload.ExternalID); err == nil {
			return &Result{ExternalID: payload.ExternalID, Data: rawToMap(raw)}, nil
		}
	}

	raw, err := h.client.CreateListing(ctx, job.TenantID, payload.ShopID, payload.Listing)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: extractEtsyListingID(raw), Data: rawToMap(raw)}, nil
}

// EtsyUpdateHandler patches an existing listing.
type EtsyUpdateHandler struct {
	client *EtsyClient
}

func (h *EtsyUpdateHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	payload, err := decodeEtsyListing(job)
	if err != nil {
		return nil, err
	}
	if payload.ExternalID == "" {
		return nil, NewFailure(FailurePermanent, "update requires an external listing id")
	}

	raw, err := h.client.UpdateListing(ctx, job.TenantID, payload.ShopID, payload.ExternalID, payload.Listing)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: payload.ExternalID, Data: rawToMap(raw)}, nil
}

// EtsyDeleteHandler removes a listing.
type EtsyDeleteHandler struct {
	client *EtsyClient
}

func (h *EtsyDeleteHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
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

// EtsySyncHandler refreshes the local snapshot of one listing.
type EtsySyncHandler struct {
	client *EtsyClient
}

func (h *EtsySyncHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
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

// EtsySyncOrdersHandler imports recent shop receipts.
type EtsySyncOrdersHandler struct {
	client *EtsyClient
}

func (h *EtsySyncOrdersHandler) Execute(ctx context.Context, job *models.Job) (*Result, error) {
	var payload struct {
		ShopID string `json:"shop_id"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, NewFailure(FailurePermanent, "malformed payload: %v", err)
	}
	if payload.ShopID == "" {
		return nil, NewFailure(FailurePermanent, "sync_orders requires a shop id")
	}
	if payload.Limit <= 0 {
		payload.Limit = 50
	}

	raw, err := h.client.GetReceipts(ctx, job.TenantID, payload.ShopID, payload.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Data: rawToMap(raw)}, nil
}

func extractEtsyListingID(raw json.RawMessage) string {
	m := rawToMap(raw)
	if m == nil {
		return ""
	}
	return stringifyID(m["listing_id"])
}
