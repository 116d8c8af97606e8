package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Asset is the durable record of a registered device.
type Asset struct {
	TenantID   string
	AssetID    string
	BootID     string
	LastActive time.Time
	SecretHash string
}

// AssetFilter narrows ListAssets results.
type AssetFilter struct {
	AssetID string
	Limit   int
}

const assetColumns = "tenant_id, asset_id, boot_id, last_active, secret_hash"

// UpsertAsset inserts or refreshes the asset row, replacing the secret hash
// and bumping last_active. Re-registering an asset rotates its credentials.
func (s *Store) UpsertAsset(ctx context.Context, tenantID, assetID, secretHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+assetsTable+` (tenant_id, asset_id, secret_hash, last_active)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (tenant_id, asset_id)
		 DO UPDATE SET secret_hash = excluded.secret_hash, last_active = CURRENT_TIMESTAMP`,
		tenantID, assetID, secretHash)
	return errors.Wrap(err, "upsert asset failed")
}

// GetAsset fetches one asset by primary key. Returns nil when absent.
func (s *Store) GetAsset(ctx context.Context, tenantID, assetID string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM `+assetsTable+` WHERE tenant_id = ? AND asset_id = ?`,
		tenantID, assetID)
	return scanAsset(row)
}

// FindAssetByID fetches an asset by its device identifier alone. Device
// bearer tokens carry no tenant, so authentication resolves the tenant here.
func (s *Store) FindAssetByID(ctx context.Context, assetID string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM `+assetsTable+` WHERE asset_id = ?`,
		assetID)
	return scanAsset(row)
}

// ListAssets returns the tenant's assets, most recently active first.
func (s *Store) ListAssets(ctx context.Context, tenantID string, filter AssetFilter) ([]*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM ` + assetsTable + ` WHERE tenant_id = ?`
	args := []any{tenantID}
	if filter.AssetID != "" {
		query += ` AND asset_id = ?`
		args = append(args, filter.AssetID)
	}
	query += ` ORDER BY last_active DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list assets failed")
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, errors.Wrap(rows.Err(), "iterate assets failed")
}

// SetAssetBootID persists the boot identifier most recently reported by the
// device.
func (s *Store) SetAssetBootID(ctx context.Context, tenantID, assetID, bootID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+assetsTable+` SET boot_id = ? WHERE tenant_id = ? AND asset_id = ?`,
		bootID, tenantID, assetID)
	return errors.Wrap(err, "set asset boot id failed")
}

// TouchAssetActivity refreshes last_active to now.
func (s *Store) TouchAssetActivity(ctx context.Context, tenantID, assetID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+assetsTable+` SET last_active = CURRENT_TIMESTAMP WHERE tenant_id = ? AND asset_id = ?`,
		tenantID, assetID)
	return errors.Wrap(err, "touch asset activity failed")
}

// UpdateAssetSecretHash replaces the stored hash, used when verification
// detects outdated hash parameters.
func (s *Store) UpdateAssetSecretHash(ctx context.Context, tenantID, assetID, secretHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+assetsTable+` SET secret_hash = ? WHERE tenant_id = ? AND asset_id = ?`,
		secretHash, tenantID, assetID)
	return errors.Wrap(err, "update asset secret hash failed")
}

// DeleteAsset removes the asset row. Remaining operation rows cascade.
func (s *Store) DeleteAsset(ctx context.Context, tenantID, assetID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+assetsTable+` WHERE tenant_id = ? AND asset_id = ?`,
		tenantID, assetID)
	return errors.Wrap(err, "delete asset failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	var (
		asset      Asset
		bootID     sql.NullString
		lastActive sql.NullString
	)
	err := row.Scan(&asset.TenantID, &asset.AssetID, &bootID, &lastActive, &asset.SecretHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan asset row failed")
	}
	asset.BootID = bootID.String
	if lastActive.Valid {
		asset.LastActive = parseSQLiteTime(lastActive.String)
	}
	return &asset, nil
}

// SQLite CURRENT_TIMESTAMP renders as "2006-01-02 15:04:05" in UTC.
func parseSQLiteTime(raw string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts
		}
	}
	return time.Time{}
}
