package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Config is the root configuration for the Climpire orchestrator.
type Config struct {
	Host      string          `json:"host"`
	Port      int             `json:"port"`
	DBPath    string          `json:"db_path"`
	LogsDir   string          `json:"logs_dir"`
	Language  string          `json:"language,omitempty"` // "", "ko", "ja", "zh", "en" — overrides per-task detection
	GatewayToken string       `json:"-"`                  // GATEWAY_TOKEN; when set, REST/WS requests need a signed bearer token
	ViteDev   bool            `json:"-"`                  // VITE_DEV; skip static-file serving even if a build exists
	OAuth     OAuthConfig     `json:"oauth,omitempty"`
	Providers ProvidersConfig `json:"providers,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// OAuthConfig holds the token-vault secret and OAuth app credentials.
// EncryptionSecret is never persisted to config.json — env only.
type OAuthConfig struct {
	EncryptionSecret   string `json:"-"` // OAUTH_ENCRYPTION_SECRET or SESSION_SECRET
	BaseURL            string `json:"base_url,omitempty"`
	GitHubClientID     string `json:"-"`
	GitHubClientSecret string `json:"-"`
	GoogleClientID     string `json:"-"`
	GoogleClientSecret string `json:"-"`
}

// ProvidersConfig holds secondary auth signals for CLI providers.
type ProvidersConfig struct {
	OpenAIAPIKey string `json:"-"` // OPENAI_API_KEY, secondary signal for codex auth detection
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// IsConfigured reports whether the vault secret has been set.
func (o OAuthConfig) IsConfigured() bool {
	return o.EncryptionSecret != ""
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the fsnotify hot-reload path to swap in a freshly-loaded config
// without invalidating pointers callers already hold to c.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Host = src.Host
	c.Port = src.Port
	c.DBPath = src.DBPath
	c.LogsDir = src.LogsDir
	c.Language = src.Language
	c.GatewayToken = src.GatewayToken
	c.ViteDev = src.ViteDev
	c.OAuth = src.OAuth
	c.Providers = src.Providers
	c.Telemetry = src.Telemetry
}

// Language returns the configured default locale override, thread-safe.
func (c *Config) LanguageOverride() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Language
}

// SetLanguage updates the default locale override at runtime (e.g. via
// PUT /api/settings), thread-safe.
func (c *Config) SetLanguage(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Language = lang
}

// Hash returns a short hash of the config for change detection on reload.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	return fmt.Sprintf("%x", data[:min(len(data), 16)])
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
