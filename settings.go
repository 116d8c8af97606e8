package oobd

import (
	"time"

	"github.com/edgefleet/oobd/internal/config"
)

// Settings collects every tunable the service reads from the
// environment, resolved once at startup.
type Settings struct {
	ListenAddr      string
	APIHost         string
	DBPath          string
	ManagementToken string

	MaxOperationTries  int
	MaxPendingPerAsset int
	TokenCacheMax      int
	TokenCacheTTL      time.Duration
	TimeoutMaxAge      time.Duration
	DeleteMaxAge       time.Duration
	UploadTokenBytes   int
	DownloadLinkTTL    time.Duration

	ReaperEnabled  bool
	ReaperInterval time.Duration

	FilestoreBackend string
	FilestoreDir     string
	GCSBucket        string
	GCSKeyPath       string
}

// SettingsFromEnv resolves all settings, applying defaults where the
// environment is silent.
func SettingsFromEnv() Settings {
	return Settings{
		ListenAddr:      config.String(EnvListenAddr, ":8085"),
		APIHost:         config.String(EnvAPIHost, "http://localhost:8085"),
		DBPath:          config.String(EnvDBPath, "oobd.sqlite"),
		ManagementToken: config.String(EnvManagementToken, ""),

		MaxOperationTries:  config.Int(EnvMaxTries, 3),
		MaxPendingPerAsset: config.Int(EnvMaxPendingPerAsst, 10),
		TokenCacheMax:      config.Int(EnvTokenCacheMax, 1000),
		TokenCacheTTL:      config.Duration(EnvTokenCacheTTL, 15*time.Minute),
		TimeoutMaxAge:      time.Duration(config.Int(EnvTimeoutMaxAgeDays, 28)) * 24 * time.Hour,
		DeleteMaxAge:       time.Duration(config.Int(EnvDeleteMaxAgeDays, 84)) * 24 * time.Hour,
		UploadTokenBytes:   config.Int(EnvUploadTokenBytes, 16),
		DownloadLinkTTL:    config.Duration(EnvDownloadLinkTTL, time.Hour),

		ReaperEnabled:  config.Bool(EnvReaperEnabled, true),
		ReaperInterval: config.Duration(EnvReaperInterval, time.Hour),

		FilestoreBackend: config.String(EnvFilestoreBackend, "local"),
		FilestoreDir:     config.String(EnvFilestoreDir, "oobd-files"),
		GCSBucket:        config.String(EnvGCSBucket, ""),
		GCSKeyPath:       config.String(EnvGCSKeyPath, ""),
	}
}
