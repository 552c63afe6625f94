package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"stoflow/internal/marketplace"
	"stoflow/internal/pkg/httpclient"
	"stoflow/internal/repository"
)

// refreshMargin triggers a proactive token refresh shortly before expiry
// instead of waiting for a 401.
const refreshMargin = 2 * time.Minute

// Endpoints configures one marketplace's OAuth2 API surface.
type Endpoints struct {
	APIBase      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// OAuthClient performs direct authenticated marketplace calls with a
// per-tenant cached access token. Durable refresh material lives in the
// credential store; the cache is process-local.
type OAuthClient struct {
	marketplace string
	endpoints   Endpoints
	creds       *repository.CredentialRepository
	http        *httpclient.Client
	logger      *zap.Logger

	mu     sync.Mutex
	tokens map[string]cachedToken
}

func NewOAuthClient(marketplaceName string, endpoints Endpoints, creds *repository.CredentialRepository, logger *zap.Logger) *OAuthClient {
	return &OAuthClient{
		marketplace: marketplaceName,
		endpoints:   endpoints,
		creds:       creds,
		http:        httpclient.New().WithTimeout(30 * time.Second),
		logger:      logger,
		tokens:      make(map[string]cachedToken),
	}
}

// Call performs one authenticated request. On an auth-expired response it
// refreshes the token once and retries the single call; a second auth
// failure means the credentials are invalid and the tenant must
// reconnect.
func (c *OAuthClient) Call(ctx context.Context, tenantID, method, path string, body interface{}) (*marketplace.HTTPResponse, error) {
	token, err := c.token(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, token, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	token, err = c.token(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	resp, err = c.do(ctx, token, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, marketplace.NewFailure(marketplace.FailureAuth,
			"%s rejected a freshly refreshed token, reconnection required", c.marketplace)
	}
	return resp, nil
}

func (c *OAuthClient) do(ctx context.Context, token, method, path string, body interface{}) (*marketplace.HTTPResponse, error) {
	req := c.http.Request().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.endpoints.APIBase+path)
	if err != nil {
		return nil, marketplace.NewFailure(marketplace.FailureRetryable,
			"%s request failed: %v", c.marketplace, err)
	}
	return &marketplace.HTTPResponse{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}, nil
}

// token returns a valid access token for the tenant, refreshing when the
// cache is cold, the token is inside the refresh margin, or force is set.
func (c *OAuthClient) token(ctx context.Context, tenantID string, force bool) (string, error) {
	c.mu.Lock()
	cached, ok := c.tokens[tenantID]
	c.mu.Unlock()
	if ok && !force && time.Until(cached.expiresAt) > refreshMargin {
		return cached.accessToken, nil
	}
	return c.refresh(ctx, tenantID)
}

func (c *OAuthClient) refresh(ctx context.Context, tenantID string) (string, error) {
	cred, err := c.creds.Find(tenantID, c.marketplace)
	if err == gorm.ErrRecordNotFound {
		return "", marketplace.NewFailure(marketplace.FailureAuth,
			"tenant %s has no %s connection", tenantID, c.marketplace)
	}
	if err != nil {
		return "", fmt.Errorf("credential lookup failed: %w", err)
	}

	resp, err := c.http.Request().
		SetContext(ctx).
		SetBasicAuth(c.endpoints.ClientID, c.endpoints.ClientSecret).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": cred.RefreshToken,
		}).
		Post(c.endpoints.TokenURL)
	if err != nil {
		return "", marketplace.NewFailure(marketplace.FailureRetryable,
			"%s token refresh failed: %v", c.marketplace, err)
	}
	if resp.StatusCode() >= 400 {
		// A rejected refresh token cannot be retried away.
		return "", marketplace.NewFailure(marketplace.FailureAuth,
			"%s refused the token refresh (status %d), reconnection required", c.marketplace, resp.StatusCode())
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body(), &grant); err != nil || grant.AccessToken == "" {
		return "", marketplace.NewFailure(marketplace.FailureAuth,
			"%s token response is unusable", c.marketplace)
	}

	expiresAt := time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	c.mu.Lock()
	c.tokens[tenantID] = cachedToken{accessToken: grant.AccessToken, expiresAt: expiresAt}
	c.mu.Unlock()

	if err := c.creds.UpdateToken(tenantID, c.marketplace, grant.AccessToken, grant.RefreshToken, expiresAt); err != nil {
		c.logger.Warn("Failed to persist refreshed token",
			zap.String("tenant_id", tenantID),
			zap.String("marketplace", c.marketplace),
			zap.Error(err))
	}
	return grant.AccessToken, nil
}

// Invalidate drops a tenant's cached token, used when a connection is
// removed or replaced.
func (c *OAuthClient) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.tokens, tenantID)
	c.mu.Unlock()
}

var _ marketplace.HTTPCaller = (*OAuthClient)(nil)
