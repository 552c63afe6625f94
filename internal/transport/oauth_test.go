package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stoflow/internal/marketplace"
	"stoflow/internal/models"
	"stoflow/internal/repository"
)

// fakeMarketplace serves a token endpoint and a trivial API that accepts a
// configurable set of bearer tokens.
type fakeMarketplace struct {
	server        *httptest.Server
	refreshes     int64
	tokenStatus   int
	validTokens   func(token string) bool
	tokenSequence int64
}

func newFakeMarketplace(validTokens func(string) bool) *fakeMarketplace {
	f := &fakeMarketplace{tokenStatus: http.StatusOK, validTokens: validTokens}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.refreshes, 1)
		if f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			return
		}
		n := atomic.AddInt64(&f.tokenSequence, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  fmt.Sprintf("access-%d", n),
			"refresh_token": fmt.Sprintf("refresh-%d", n),
			"expires_in":    7200,
		})
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !f.validTokens(token) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	})
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeMarketplace) refreshCount() int64 {
	return atomic.LoadInt64(&f.refreshes)
}

func newOAuthEnv(t *testing.T, f *fakeMarketplace, expiresAt time.Time) (*OAuthClient, *repository.CredentialRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Credential{}))

	creds := repository.NewCredentialRepository(db)
	require.NoError(t, creds.Upsert(&models.Credential{
		TenantID:     "tenant-1",
		Marketplace:  marketplace.Ebay,
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    expiresAt,
	}))

	client := NewOAuthClient(marketplace.Ebay, Endpoints{
		APIBase:      f.server.URL + "/api",
		TokenURL:     f.server.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}, creds, zap.NewNop())
	t.Cleanup(f.server.Close)
	return client, creds
}

func TestCallRefreshesColdCacheAndPersists(t *testing.T) {
	f := newFakeMarketplace(func(token string) bool { return strings.HasPrefix(token, "access-") })
	client, creds := newOAuthEnv(t, f, time.Now().Add(time.Hour))

	resp, err := client.Call(context.Background(), "tenant-1", http.MethodGet, "/sell/inventory/v1/offer/1", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), f.refreshCount())

	cred, err := creds.Find("tenant-1", marketplace.Ebay)
	require.NoError(t, err)
	assert.Equal(t, "access-1", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)

	// The warm cache serves the second call without another refresh.
	_, err = client.Call(context.Background(), "tenant-1", http.MethodGet, "/sell/inventory/v1/offer/1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.refreshCount())
}

func TestCallRetriesOnceAfterUnauthorized(t *testing.T) {
	// Only the second minted token is accepted, so the first API call
	// comes back 401 and forces one refresh-and-retry.
	f := newFakeMarketplace(func(token string) bool { return token == "access-2" })
	client, _ := newOAuthEnv(t, f, time.Now().Add(time.Hour))

	resp, err := client.Call(context.Background(), "tenant-1", http.MethodGet, "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), f.refreshCount())
}

func TestCallDoubleUnauthorizedIsAuthFailure(t *testing.T) {
	f := newFakeMarketplace(func(string) bool { return false })
	client, _ := newOAuthEnv(t, f, time.Now().Add(time.Hour))

	_, err := client.Call(context.Background(), "tenant-1", http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.Equal(t, marketplace.FailureAuth, marketplace.Classify(err))
}

func TestRefreshRejectionIsAuthFailure(t *testing.T) {
	f := newFakeMarketplace(func(string) bool { return true })
	f.tokenStatus = http.StatusBadRequest
	client, _ := newOAuthEnv(t, f, time.Now().Add(time.Hour))

	_, err := client.Call(context.Background(), "tenant-1", http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.Equal(t, marketplace.FailureAuth, marketplace.Classify(err))
}

func TestMissingConnectionIsAuthFailure(t *testing.T) {
	f := newFakeMarketplace(func(string) bool { return true })
	client, _ := newOAuthEnv(t, f, time.Now().Add(time.Hour))

	_, err := client.Call(context.Background(), "tenant-unknown", http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.Equal(t, marketplace.FailureAuth, marketplace.Classify(err))
}

func TestInvalidateForcesNextRefresh(t *testing.T) {
	f := newFakeMarketplace(func(token string) bool { return strings.HasPrefix(token, "access-") })
	client, _ := newOAuthEnv(t, f, time.Now().Add(time.Hour))

	_, err := client.Call(context.Background(), "tenant-1", http.MethodGet, "/x", nil)
	require.NoError(t, err)
	client.Invalidate("tenant-1")

	_, err = client.Call(context.Background(), "tenant-1", http.MethodGet, "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.refreshCount())
}
