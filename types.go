package oobd

import (
	"encoding/json"
	"time"
)

// EdgeOperation is an operation as serialized toward a device. Status
// is omitted while the operation is still Created: the device treats
// absence as "new work".
type EdgeOperation struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     string          `json:"status,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// AssetView is the management-plane projection of an asset row. The
// secret hash never leaves the service.
type AssetView struct {
	TenantID   string    `json:"tenantId"`
	AssetID    string    `json:"assetId"`
	BootID     string    `json:"bootId,omitempty"`
	LastActive time.Time `json:"lastActive"`
}

// OperationView is the management-plane projection of an operation row.
type OperationView struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenantId"`
	AssetID           string          `json:"assetId"`
	Name              string          `json:"name"`
	Status            string          `json:"status"`
	Tries             int             `json:"tries"`
	AdditionalDetails string          `json:"additionalDetails,omitempty"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
	Progress          *ProgressView   `json:"progress,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// ProgressView reports how far a long-running operation has advanced.
// Size is unknown until the device reports it.
type ProgressView struct {
	Position int64  `json:"position"`
	Size     *int64 `json:"size,omitempty"`
}
