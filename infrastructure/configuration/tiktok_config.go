package configuration

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TikTokConfig is the resolved TikTok client configuration.
type TikTokConfig struct {
	ClientKey            string
	ClientSecret         string
	RedirectURI          string
	ExtraScopes          []string
	ForceVerify          bool
	StatusAttempts       int
	StatusInterval       time.Duration
	ContentPostingMethod string
	Mock                 bool
	HTTPTimeout          time.Duration
}

// QueueConfig is the resolved delayed queue configuration.
type QueueConfig struct {
	Backend  string
	Name     string
	JobGroup string
}

// StorageConfig is the resolved S3-compatible storage configuration.
type StorageConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PublicURL string
}

var ErrTikTokNotConfigured = errors.New("tiktok client key/secret not configured")

// GetTikTokConfig returns TikTok configuration from the JSON config with
// environment variable overrides. In mock mode credentials are optional.
func GetTikTokConfig() (*TikTokConfig, error) {
	scheme := "http"
	if C.App.TLSEnabled {
		scheme = "https"
	}
	port := C.App.Port
	if port == 0 {
		port = 10001
	}
	defaultRedirect := fmt.Sprintf("%s://localhost:%d/integrations/social/tiktok/callback", scheme, port)

	cfg := &TikTokConfig{
		ClientKey:            getConfigValue(C.TikTok.ClientKey, "TIKTOK_CLIENT_KEY", ""),
		ClientSecret:         getConfigValue(C.TikTok.ClientSecret, "TIKTOK_CLIENT_SECRET", ""),
		RedirectURI:          getConfigValue(C.TikTok.RedirectURI, "TIKTOK_REDIRECT_URI", defaultRedirect),
		ExtraScopes:          splitList(getConfigValue(C.TikTok.Scopes, "TIKTOK_SCOPES", "")),
		ForceVerify:          parseBool(os.Getenv("TIKTOK_FORCE_VERIFY"), C.TikTok.ForceVerify),
		StatusAttempts:       getConfigInt(C.TikTok.StatusAttempts, "TIKTOK_POST_STATUS_ATTEMPTS", 30),
		StatusInterval:       time.Duration(getConfigInt(C.TikTok.StatusIntervalMs, "TIKTOK_POST_STATUS_INTERVAL_MS", 10_000)) * time.Millisecond,
		ContentPostingMethod: strings.ToUpper(getConfigValue(C.TikTok.ContentPostingMethod, "TIKTOK_CONTENT_POSTING_METHOD", "")),
		Mock:                 parseBool(os.Getenv("TIKTOK_MOCK"), C.TikTok.Mock),
		HTTPTimeout:          time.Duration(getConfigInt(C.TikTok.HTTPTimeoutSeconds, "TIKTOK_HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	if !cfg.Mock && (cfg.ClientKey == "" || cfg.ClientSecret == "") {
		return cfg, ErrTikTokNotConfigured
	}
	return cfg, nil
}

// GetQueueConfig resolves the delayed queue section.
func GetQueueConfig() QueueConfig {
	return QueueConfig{
		Backend:  strings.ToLower(getConfigValue(C.Queue.Backend, "QUEUE_BACKEND", "redis")),
		Name:     getConfigValue(C.Queue.Name, "QUEUE_NAME", "tiktok-posts"),
		JobGroup: getConfigValue(C.Queue.JobGroup, "QUEUE_JOB_GROUP", "slidescockpit"),
	}
}

// GetStorageConfig resolves the media storage section. Endpoint empty means
// uploads are disabled.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Endpoint:  getConfigValue(C.Storage.Endpoint, "S3_ENDPOINT", ""),
		Region:    getConfigValue(C.Storage.Region, "S3_REGION", "us-east-1"),
		Bucket:    getConfigValue(C.Storage.Bucket, "S3_BUCKET", ""),
		AccessKey: getConfigValue(C.Storage.AccessKey, "S3_ACCESS_KEY_ID", ""),
		SecretKey: getConfigValue(C.Storage.SecretKey, "S3_SECRET_ACCESS_KEY", ""),
		UseSSL:    parseBool(os.Getenv("S3_USE_SSL"), C.Storage.UseSSL),
		PublicURL: getConfigValue(C.Storage.PublicURL, "S3_PUBLIC_URL", ""),
	}
}

// getConfigValue gets value from config first, then environment variable, then default
func getConfigValue(configValue, envKey, defaultValue string) string {
	// Environment variable takes precedence when provided
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if configValue != "" && !strings.HasPrefix(configValue, "YOUR_") {
		return configValue
	}
	return defaultValue
}

func getConfigInt(configValue int, envKey string, defaultValue int) int {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if configValue > 0 {
		return configValue
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
