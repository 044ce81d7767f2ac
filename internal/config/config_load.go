package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults, matching the env var
// defaults documented for climpire: PORT=8787, HOST=127.0.0.1.
func Default() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		Host:    "127.0.0.1",
		Port:    8787,
		DBPath:  filepath.Join(cwd, "climpire.sqlite"),
		LogsDir: filepath.Join(cwd, "logs"),
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, per spec.md §6.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("HOST", &c.Host)
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	envStr("DB_PATH", &c.DBPath)
	envStr("LOGS_DIR", &c.LogsDir)

	secret := os.Getenv("OAUTH_ENCRYPTION_SECRET")
	if secret == "" {
		secret = os.Getenv("SESSION_SECRET")
	}
	if secret != "" {
		c.OAuth.EncryptionSecret = secret
	}
	envStr("OAUTH_BASE_URL", &c.OAuth.BaseURL)
	envStr("OAUTH_GITHUB_CLIENT_ID", &c.OAuth.GitHubClientID)
	envStr("OAUTH_GITHUB_CLIENT_SECRET", &c.OAuth.GitHubClientSecret)
	envStr("OAUTH_GOOGLE_CLIENT_ID", &c.OAuth.GoogleClientID)
	envStr("OAUTH_GOOGLE_CLIENT_SECRET", &c.OAuth.GoogleClientSecret)

	envStr("OPENAI_API_KEY", &c.Providers.OpenAIAPIKey)
	envStr("GATEWAY_TOKEN", &c.GatewayToken)
	if v := os.Getenv("VITE_DEV"); v != "" {
		c.ViteDev = true
	}

	if c.OAuth.BaseURL == "" {
		c.OAuth.BaseURL = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}

	envStr("CLIMPIRE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CLIMPIRE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CLIMPIRE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "climpire"
	}
}

// LoadDotEnv parses <serverDir>/../.env at boot, applying KEY=VALUE lines
// to the process environment. It does not expand variable references —
// `KEY=$OTHER` stores the literal string "$OTHER" — preserving the
// documented oddity rather than silently fixing it. Existing env vars win;
// comments and blank lines are ignored.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, val)
	}
	return scanner.Err()
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
