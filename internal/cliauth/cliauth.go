// Package cliauth detects whether each CLI provider is installed and
// authenticated on this machine, per spec.md §6. Every probe is
// best-effort: a missing file or an unreadable keychain is "not
// authenticated", never an error.
package cliauth

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/nextlevelbuilder/climpire/internal/store"
)

// Status is one provider's install/auth snapshot.
type Status struct {
	Provider      string `json:"provider"`
	Installed     bool   `json:"installed"`
	Authenticated bool   `json:"authenticated"`
	Method        string `json:"method,omitempty"` // how auth was detected
}

// Detector probes provider CLIs, caching results for 30s per
// GET /api/cli-status.
type Detector struct {
	openAIAPIKey string
	cache        *cache.Cache
	log          zerolog.Logger
}

const cacheKey = "cli-status"

// New creates a Detector. openAIAPIKey is the secondary auth signal for
// codex (the OPENAI_API_KEY env var routed through config).
func New(openAIAPIKey string, log zerolog.Logger) *Detector {
	return &Detector{
		openAIAPIKey: openAIAPIKey,
		cache:        cache.New(30*time.Second, time.Minute),
		log:          log.With().Str("component", "cliauth").Logger(),
	}
}

// Detect returns the status of every provider, from cache unless refresh
// is set.
func (d *Detector) Detect(refresh bool) []Status {
	if !refresh {
		if cached, ok := d.cache.Get(cacheKey); ok {
			return cached.([]Status)
		}
	}

	statuses := []Status{
		d.detectClaude(),
		d.detectCodex(),
		d.detectGemini(),
		d.detectOpenCode(),
		{Provider: store.ProviderCopilot, Installed: true},     // HTTP agent; auth comes from oauth_credentials
		{Provider: store.ProviderAntigravity, Installed: true}, // HTTP agent; auth comes from oauth_credentials
	}
	d.cache.Set(cacheKey, statuses, cache.DefaultExpiration)
	return statuses
}

func installed(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

func home() string {
	h, _ := os.UserHomeDir()
	return h
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func (d *Detector) detectClaude() Status {
	s := Status{Provider: store.ProviderClaude, Installed: installed("claude")}

	if data, err := os.ReadFile(filepath.Join(home(), ".claude.json")); err == nil {
		var parsed map[string]json.RawMessage
		if json.Unmarshal(data, &parsed) == nil {
			if _, ok := parsed["oauthAccount"]; ok {
				s.Authenticated = true
				s.Method = "claude.json"
				return s
			}
		}
	}
	if fileNonEmpty(filepath.Join(home(), ".claude", "auth.json")) {
		s.Authenticated = true
		s.Method = "auth.json"
		return s
	}
	if runtime.GOOS == "darwin" && keychainHas("Claude Code-credentials", "") {
		s.Authenticated = true
		s.Method = "keychain"
	}
	return s
}

func (d *Detector) detectCodex() Status {
	s := Status{Provider: store.ProviderCodex, Installed: installed("codex")}

	if data, err := os.ReadFile(filepath.Join(home(), ".codex", "auth.json")); err == nil {
		var parsed map[string]json.RawMessage
		if json.Unmarshal(data, &parsed) == nil {
			if _, ok := parsed["OPENAI_API_KEY"]; ok {
				s.Authenticated = true
				s.Method = "auth.json"
				return s
			}
			if _, ok := parsed["tokens"]; ok {
				s.Authenticated = true
				s.Method = "auth.json"
				return s
			}
		}
	}
	if d.openAIAPIKey != "" {
		s.Authenticated = true
		s.Method = "env"
	}
	return s
}

func (d *Detector) detectGemini() Status {
	s := Status{Provider: store.ProviderGemini, Installed: installed("gemini")}

	if runtime.GOOS == "darwin" && keychainHas("gemini-cli-oauth", "main-account") {
		s.Authenticated = true
		s.Method = "keychain"
		return s
	}
	if fileNonEmpty(filepath.Join(home(), ".gemini", "oauth_creds.json")) {
		s.Authenticated = true
		s.Method = "oauth_creds.json"
		return s
	}
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		if fileNonEmpty(filepath.Join(appdata, "gcloud", "application_default_credentials.json")) {
			s.Authenticated = true
			s.Method = "gcloud_adc"
		}
	}
	return s
}

func (d *Detector) detectOpenCode() Status {
	s := Status{Provider: store.ProviderOpenCode, Installed: installed("opencode")}

	candidates := []string{
		filepath.Join(home(), ".local", "share", "opencode", "auth.json"),
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "opencode", "auth.json"))
	}
	if runtime.GOOS == "darwin" {
		candidates = append(candidates, filepath.Join(home(), "Library", "Application Support", "opencode", "auth.json"))
	}
	for _, p := range candidates {
		if fileNonEmpty(p) {
			s.Authenticated = true
			s.Method = "auth.json"
			return s
		}
	}
	return s
}

// keychainHas shells out to the macOS security tool; any failure means
// "not found".
func keychainHas(service, account string) bool {
	args := []string{"find-generic-password", "-s", service}
	if account != "" {
		args = append(args, "-a", account)
	}
	out, err := exec.Command("security", args...).CombinedOutput()
	return err == nil && !strings.Contains(string(out), "could not be found")
}
