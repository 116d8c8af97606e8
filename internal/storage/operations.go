package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/edgefleet/oobd/pkg/oid"
)

// Operation is the durable record of one requested out-of-band action.
type Operation struct {
	TenantID          string
	AssetID           string
	ID                oid.OID
	Name              string
	Status            string
	Tries             int
	AdditionalDetails string
	Parameters        json.RawMessage
	Progress          *Progress
	UploadToken       string
}

// Progress is the device-reported completion state of an operation.
type Progress struct {
	Position int64  `json:"position"`
	Size     *int64 `json:"size,omitempty"`
}

// OperationUpdate describes a partial mutation of an operation row. Nil
// pointer fields keep the stored value.
type OperationUpdate struct {
	Status            string
	AdditionalDetails *string
	Progress          *Progress
	Tries             *int
}

// OperationFilter narrows operation queries. Results are always ordered by
// id ascending (oldest first) so that IDAfter works as a forward-only cursor.
type OperationFilter struct {
	AssetID  string
	Name     string
	Statuses []string
	// IDAfter selects rows strictly after the cursor.
	IDAfter *oid.OID
	// IDMax selects rows strictly older than the cutoff.
	IDMax *oid.OID
	Limit int
}

const operationColumns = "tenant_id, asset_id, id, name, status, tries, additional_details, parameters, progress, upload_token"

// CreateOperation inserts a new operation row.
func (s *Store) CreateOperation(ctx context.Context, op *Operation) error {
	parameters := sql.NullString{}
	if len(op.Parameters) > 0 {
		parameters = sql.NullString{String: string(op.Parameters), Valid: true}
	}
	progress, err := marshalJSONColumn(jsonOrNil(op.Progress))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+operationsTable+`
		 (id, tenant_id, asset_id, name, status, tries, additional_details, parameters, progress, upload_token)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID.Bytes(), op.TenantID, op.AssetID, op.Name, op.Status, op.Tries,
		nullableString(op.AdditionalDetails), parameters, progress, nullableString(op.UploadToken))
	return errors.Wrap(err, "insert operation failed")
}

// GetOperation fetches one operation by id across all tenants. Used by the
// upload path where the upload token, not a session, is the credential.
func (s *Store) GetOperation(ctx context.Context, id oid.OID) (*Operation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM `+operationsTable+` WHERE id = ?`, id.Bytes())
	return scanOperation(row)
}

// GetAssetOperation fetches one operation scoped to its owning asset.
func (s *Store) GetAssetOperation(ctx context.Context, tenantID, assetID string, id oid.OID) (*Operation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM `+operationsTable+`
		 WHERE tenant_id = ? AND asset_id = ? AND id = ?`,
		tenantID, assetID, id.Bytes())
	return scanOperation(row)
}

// ListOperations returns operations matching the filter, oldest first. An
// empty tenantID matches all tenants (reaper sweeps run unscoped).
func (s *Store) ListOperations(ctx context.Context, tenantID string, filter OperationFilter) ([]*Operation, error) {
	var (
		where []string
		args  []any
	)
	if tenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, tenantID)
	}
	if filter.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, filter.AssetID)
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.IDAfter != nil {
		where = append(where, "id > ?")
		args = append(args, filter.IDAfter.Bytes())
	}
	if filter.IDMax != nil {
		where = append(where, "id < ?")
		args = append(args, filter.IDMax.Bytes())
	}

	query := `SELECT ` + operationColumns + ` FROM ` + operationsTable
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list operations failed")
	}
	defer rows.Close()

	var operations []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		operations = append(operations, op)
	}
	return operations, errors.Wrap(rows.Err(), "iterate operations failed")
}

// CountOperations counts the asset's operations in the given statuses. The
// pending-operation cap is enforced against this count at creation time.
func (s *Store) CountOperations(ctx context.Context, tenantID, assetID string, statuses []string) (int, error) {
	query := `SELECT COUNT(*) FROM ` + operationsTable + ` WHERE tenant_id = ? AND asset_id = ?`
	args := []any{tenantID, assetID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count operations failed")
	}
	return count, nil
}

// UpdateOperationWhereStatus applies update only while the stored status is
// still in whereStatuses, and reports whether any row changed. A false return
// with no error means the operation was concurrently completed elsewhere; the
// caller decides whether that race is benign.
func (s *Store) UpdateOperationWhereStatus(ctx context.Context, tenantID, assetID string, id oid.OID, update OperationUpdate, whereStatuses []string) (bool, error) {
	sets := []string{"status = ?"}
	args := []any{update.Status}
	if update.AdditionalDetails != nil {
		sets = append(sets, "additional_details = ?")
		args = append(args, nullableString(*update.AdditionalDetails))
	}
	if update.Progress != nil {
		progress, err := marshalJSONColumn(update.Progress)
		if err != nil {
			return false, err
		}
		sets = append(sets, "progress = ?")
		args = append(args, progress)
	}
	if update.Tries != nil {
		sets = append(sets, "tries = ?")
		args = append(args, *update.Tries)
	}

	query := `UPDATE ` + operationsTable + ` SET ` + strings.Join(sets, ", ") +
		` WHERE tenant_id = ? AND asset_id = ? AND id = ?`
	args = append(args, tenantID, assetID, id.Bytes())
	if len(whereStatuses) > 0 {
		query += ` AND status IN (` + placeholders(len(whereStatuses)) + `)`
		for _, status := range whereStatuses {
			args = append(args, status)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "update operation failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "read affected rows failed")
	}
	return affected > 0, nil
}

// IncrementTries bumps the tries counter for every listed operation.
func (s *Store) IncrementTries(ctx context.Context, ids []oid.OID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id.Bytes())
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+operationsTable+` SET tries = tries + 1 WHERE id IN (`+placeholders(len(ids))+`)`,
		args...)
	return errors.Wrap(err, "increment operation tries failed")
}

// DeleteOperation removes a single operation row.
func (s *Store) DeleteOperation(ctx context.Context, id oid.OID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+operationsTable+` WHERE id = ?`, id.Bytes())
	return errors.Wrap(err, "delete operation failed")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func jsonOrNil(p *Progress) any {
	if p == nil {
		return nil
	}
	return p
}

func scanOperation(row rowScanner) (*Operation, error) {
	var (
		op                Operation
		rawID             []byte
		additionalDetails sql.NullString
		parameters        sql.NullString
		progress          sql.NullString
		uploadToken       sql.NullString
	)
	err := row.Scan(&op.TenantID, &op.AssetID, &rawID, &op.Name, &op.Status, &op.Tries,
		&additionalDetails, &parameters, &progress, &uploadToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan operation row failed")
	}
	op.ID, err = oid.FromBytes(rawID)
	if err != nil {
		return nil, errors.Wrap(err, "decode operation id failed")
	}
	op.AdditionalDetails = additionalDetails.String
	if parameters.Valid {
		op.Parameters = json.RawMessage(parameters.String)
	}
	if progress.Valid {
		var parsed Progress
		if err := json.Unmarshal([]byte(progress.String), &parsed); err != nil {
			return nil, errors.Wrap(err, "decode operation progress failed")
		}
		op.Progress = &parsed
	}
	op.UploadToken = uploadToken.String
	return &op, nil
}
