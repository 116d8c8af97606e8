package oobd

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgefleet/oobd/internal/storage"
)

func testSettings() Settings {
	return Settings{
		APIHost:            "http://localhost:8085",
		MaxOperationTries:  3,
		MaxPendingPerAsset: 10,
		TokenCacheMax:      1000,
		TokenCacheTTL:      15 * time.Minute,
		TimeoutMaxAge:      28 * 24 * time.Hour,
		DeleteMaxAge:       84 * 24 * time.Hour,
		UploadTokenBytes:   16,
		DownloadLinkTTL:    time.Hour,
	}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "oob.sqlite"))
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAuthenticateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	auth := NewAuthenticator(store, testSettings())
	ctx := context.Background()

	token, err := auth.CreateAsset(ctx, "t1", "asset-1")
	if err != nil {
		t.Fatalf("create asset failed: %v", err)
	}

	asset, err := auth.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if asset.TenantID != "t1" || asset.AssetID != "asset-1" {
		t.Fatalf("wrong asset resolved: %+v", asset)
	}

	// Second call should take the cache path and still resolve.
	asset, err = auth.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("cached authenticate failed: %v", err)
	}
	if asset.AssetID != "asset-1" {
		t.Fatalf("wrong asset from cache path: %+v", asset)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	store := openTestStore(t)
	auth := NewAuthenticator(store, testSettings())
	ctx := context.Background()

	if _, err := auth.CreateAsset(ctx, "t1", "asset-1"); err != nil {
		t.Fatalf("create asset failed: %v", err)
	}

	cases := map[string]struct {
		token  string
		status int
	}{
		"empty":         {"", 401},
		"not base64":    {"%%%not-base64%%%", 400},
		"no separator":  {base64.StdEncoding.EncodeToString([]byte("assetonly")), 400},
		"unknown asset": {base64.StdEncoding.EncodeToString([]byte("ghost:secret")), 404},
		"wrong secret":  {base64.StdEncoding.EncodeToString([]byte("asset-1:wrong")), 401},
	}
	for name, tc := range cases {
		_, err := auth.Authenticate(ctx, tc.token)
		if err == nil {
			t.Fatalf("%s token should be rejected", name)
		}
		if HTTPStatus(err) != tc.status {
			t.Fatalf("%s token should map to %d, got %d", name, tc.status, HTTPStatus(err))
		}
	}
}

func TestReRegisterInvalidatesOldToken(t *testing.T) {
	store := openTestStore(t)
	auth := NewAuthenticator(store, testSettings())
	ctx := context.Background()

	oldToken, err := auth.CreateAsset(ctx, "t1", "asset-1")
	if err != nil {
		t.Fatalf("create asset failed: %v", err)
	}
	if _, err := auth.Authenticate(ctx, oldToken); err != nil {
		t.Fatalf("old token should work before rotation: %v", err)
	}

	newToken, err := auth.CreateAsset(ctx, "t1", "asset-1")
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}

	if _, err := auth.Authenticate(ctx, oldToken); err == nil {
		t.Fatal("old token should be rejected after rotation")
	}
	if _, err := auth.Authenticate(ctx, newToken); err != nil {
		t.Fatalf("new token should work: %v", err)
	}
}

func TestCachedTokenStopsWorkingAfterAssetDelete(t *testing.T) {
	store := openTestStore(t)
	auth := NewAuthenticator(store, testSettings())
	ctx := context.Background()

	token, err := auth.CreateAsset(ctx, "t1", "asset-1")
	if err != nil {
		t.Fatalf("create asset failed: %v", err)
	}
	if _, err := auth.Authenticate(ctx, token); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	if err := store.DeleteAsset(ctx, "t1", "asset-1"); err != nil {
		t.Fatalf("delete asset failed: %v", err)
	}

	// Cache still holds the token, but the fresh row fetch must miss.
	_, err = auth.Authenticate(ctx, token)
	if err == nil || HTTPStatus(err) != 404 {
		t.Fatalf("token for deleted asset should be a 404, got %v", err)
	}
}
