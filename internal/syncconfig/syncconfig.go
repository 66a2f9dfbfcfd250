package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL      string `json:"url"`
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"` // duration string, default "30s"
}

// Config is the global classcomm config stored at ~/.config/classcomm/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/classcomm/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ServerURL string `json:"server_url"`
}

// GetUserID returns the authenticated user id from auth.json.
func GetUserID() string {
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.UserID
	}
	return ""
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/classcomm, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "classcomm")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/classcomm/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config to ~/.config/classcomm/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials from ~/.config/classcomm/auth.json.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials to ~/.config/classcomm/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: CLASSCOMM_SYNC_URL env > auth.json > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("CLASSCOMM_SYNC_URL"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: CLASSCOMM_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("CLASSCOMM_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

// GetSyncEnabled returns whether background sync is enabled.
// Priority: CLASSCOMM_SYNC_AUTO env > config.json sync.enabled > true
func GetSyncEnabled() bool {
	if v := parseBoolEnv("CLASSCOMM_SYNC_AUTO"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.Enabled
	}
	return true
}

// GetSyncInterval returns the periodic sync interval.
// Priority: CLASSCOMM_SYNC_INTERVAL env > config.json sync.interval > 30s
func GetSyncInterval() time.Duration {
	if v := os.Getenv("CLASSCOMM_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Interval != "" {
		if d, err := time.ParseDuration(cfg.Sync.Interval); err == nil {
			return d
		}
	}
	return 30 * time.Second
}
