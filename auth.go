package oobd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/edgefleet/oobd/internal/secrets"
	"github.com/edgefleet/oobd/internal/storage"
)

const assetSecretBytes = 32

// Authenticator issues device tokens and verifies them on every edge
// request. Verified tokens are remembered in a bounded LRU so repeat
// polls skip the Argon2 check, but the asset row is re-read on every
// call so deletions and rotations take effect immediately.
type Authenticator struct {
	store *storage.Store
	cache *tokenCache
}

func NewAuthenticator(store *storage.Store, settings Settings) *Authenticator {
	return &Authenticator{
		store: store,
		cache: newTokenCache(settings.TokenCacheTTL, settings.TokenCacheMax),
	}
}

// CreateAsset registers (or re-registers) an asset and returns the
// bearer token its device must present. Re-registering rotates the
// secret, invalidating any previously issued token.
func (a *Authenticator) CreateAsset(ctx context.Context, tenantID, assetID string) (string, error) {
	raw := make([]byte, assetSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "generate asset secret")
	}
	secret := hex.EncodeToString(raw)

	hash, err := secrets.Hash(secret)
	if err != nil {
		return "", errors.Wrap(err, "hash asset secret")
	}
	if err := a.store.UpsertAsset(ctx, tenantID, assetID, hash); err != nil {
		return "", errors.Wrap(err, "store asset")
	}
	a.cache.DropAsset(assetID)

	token := base64.StdEncoding.EncodeToString([]byte(assetID + ":" + secret))
	return token, nil
}

// Authenticate resolves a device bearer token to its asset row.
// Returns an Unauthorized APIError for anything that fails to verify.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*storage.Asset, error) {
	if token == "" {
		return nil, Unauthorized("missing token")
	}

	if assetID, ok := a.cache.Get(token); ok {
		asset, err := a.store.FindAssetByID(ctx, assetID)
		if err != nil {
			return nil, errors.Wrap(err, "fetch cached asset")
		}
		if asset == nil {
			// Asset deleted since the token was cached.
			a.cache.DropAsset(assetID)
			return nil, NotFound("unknown asset")
		}
		a.touchActivity(asset)
		return asset, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, BadRequest("malformed token")
	}
	assetID, secret, ok := strings.Cut(string(decoded), ":")
	if !ok || assetID == "" || secret == "" {
		return nil, BadRequest("malformed token")
	}

	asset, err := a.store.FindAssetByID(ctx, assetID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch asset")
	}
	if asset == nil {
		return nil, NotFound("unknown asset")
	}

	valid, err := secrets.Verify(asset.SecretHash, secret)
	if err != nil || !valid {
		return nil, Unauthorized("invalid token")
	}

	if secrets.NeedsRehash(asset.SecretHash) {
		if fresh, err := secrets.Hash(secret); err == nil {
			if err := a.store.UpdateAssetSecretHash(ctx, asset.TenantID, asset.AssetID, fresh); err != nil {
				log.Warn().Err(err).Str("assetId", asset.AssetID).Msg("secret rehash not persisted")
			} else {
				asset.SecretHash = fresh
			}
		}
	}

	a.cache.Put(token, asset.AssetID)
	a.touchActivity(asset)
	return asset, nil
}

// InvalidateAsset drops cached tokens for an asset. Called when the
// asset is deleted.
func (a *Authenticator) InvalidateAsset(assetID string) {
	a.cache.DropAsset(assetID)
}

// touchActivity records that the device was seen. Best effort: a
// failed touch never fails the request it rode in on.
func (a *Authenticator) touchActivity(asset *storage.Asset) {
	go func() {
		if err := a.store.TouchAssetActivity(context.Background(), asset.TenantID, asset.AssetID); err != nil {
			log.Warn().Err(err).Str("assetId", asset.AssetID).Msg("last-active touch failed")
		}
	}()
}
