// Package oobd implements the out-of-band operations service: issuing
// asynchronous operations to intermittently connected devices, serving
// their polls, and tracking each operation through its lifecycle.
package oobd

// Operation status values. Created/Pending/InProgress are non-terminal;
// Success/Failed/Cancelled are terminal and never change again.
const (
	StatusCreated    = "Created"
	StatusPending    = "Pending"
	StatusInProgress = "InProgress"
	StatusSuccess    = "Success"
	StatusFailed     = "Failed"
	StatusCancelled  = "Cancelled"
)

// Operation kinds a device knows how to execute.
const (
	NameReboot          = "Reboot"
	NameRestartServices = "RestartServices"
	NameSendFiles       = "SendFiles"
)

// NonTerminalStatuses lists statuses an operation can still leave.
var NonTerminalStatuses = []string{StatusCreated, StatusPending, StatusInProgress}

// TerminalStatuses lists statuses an operation never leaves.
var TerminalStatuses = []string{StatusSuccess, StatusFailed, StatusCancelled}

// DeviceReportableStatuses lists statuses a device may report back.
// Created is reserved for the management plane.
var DeviceReportableStatuses = []string{StatusPending, StatusInProgress, StatusSuccess, StatusFailed}

// IsDeviceReportable reports whether a device may report status.
func IsDeviceReportable(status string) bool {
	for _, s := range DeviceReportableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status is one an operation never leaves.
func IsTerminal(status string) bool {
	return status == StatusSuccess || status == StatusFailed || status == StatusCancelled
}

// IsKnownName reports whether name is an operation kind devices support.
func IsKnownName(name string) bool {
	return name == NameReboot || name == NameRestartServices || name == NameSendFiles
}

// Failure details written by the service itself.
const (
	DetailTimedOut = "Operation has timed out"
)

// Environment variable names.
const (
	EnvListenAddr        = "OOB_LISTEN_ADDR"
	EnvAPIHost           = "OOB_API_HOST"
	EnvDBPath            = "OOB_DB_PATH"
	EnvManagementToken   = "OOB_MANAGEMENT_TOKEN"
	EnvMaxTries          = "MAX_OPERATION_TRIES"
	EnvMaxPendingPerAsst = "MAX_PENDING_OPERATIONS_PER_ASSET"
	EnvTokenCacheMax     = "TOKEN_CACHE_MAX"
	EnvTokenCacheTTL     = "TOKEN_CACHE_TTL"
	EnvTimeoutMaxAgeDays = "OPERATION_TIMEOUT_MAX_AGE_DAYS"
	EnvDeleteMaxAgeDays  = "OPERATION_DELETE_MAX_AGE_DAYS"
	EnvUploadTokenBytes  = "UPLOAD_TOKEN_BYTES"
	EnvReaperEnabled     = "REAPER_ENABLED"
	EnvReaperInterval    = "REAPER_INTERVAL"
	EnvFilestoreBackend  = "FILESTORE_BACKEND"
	EnvFilestoreDir      = "FILESTORE_DIR"
	EnvGCSBucket         = "FILESTORE_GCS_BUCKET"
	EnvGCSKeyPath        = "FILESTORE_GCS_KEY_PATH"
	EnvDownloadLinkTTL   = "DOWNLOAD_LINK_TTL"
)
