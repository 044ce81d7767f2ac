package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

func jsonBody(b []byte) io.Reader { return bytes.NewReader(b) }

// Gemini CLI's public installed-app OAuth client. Installed-app client
// secrets are not confidential; these are the published gemini-cli
// values used to refresh a file-sourced token.
const (
	geminiClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	geminiClientSecret = "d-FL95Q19q7MQmFpd7hHD0Ty"
)

// FileTokenSource discovers provider tokens from the host's CLI auth
// files and, on macOS, the system keychain. Gemini tokens are refreshed
// through the Google token endpoint and persisted back to the source
// file when they are within the freshness margin of expiry.
type FileTokenSource struct {
	http *http.Client
}

// NewFileTokenSource creates the default host-file token source.
func NewFileTokenSource() *FileTokenSource {
	return &FileTokenSource{http: &http.Client{Timeout: 15 * time.Second}}
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

type claudeCredFile struct {
	ClaudeAiOauth struct {
		AccessToken string `json:"accessToken"`
		ExpiresAt   int64  `json:"expiresAt"` // unix millis
	} `json:"claudeAiOauth"`
}

// ClaudeToken reads the Claude Code OAuth access token from the macOS
// keychain entry or ~/.claude/auth.json.
func (f *FileTokenSource) ClaudeToken(ctx context.Context) (string, error) {
	var raw []byte
	if runtime.GOOS == "darwin" {
		out, err := exec.CommandContext(ctx, "security", "find-generic-password",
			"-s", "Claude Code-credentials", "-w").Output()
		if err == nil {
			raw = out
		}
	}
	if raw == nil {
		data, err := os.ReadFile(filepath.Join(homeDir(), ".claude", "auth.json"))
		if err != nil {
			return "", errUnauthenticated
		}
		raw = data
	}

	var cred claudeCredFile
	if err := json.Unmarshal(bytes.TrimSpace(raw), &cred); err != nil {
		return "", errUnauthenticated
	}
	if cred.ClaudeAiOauth.AccessToken == "" {
		return "", errUnauthenticated
	}
	if cred.ClaudeAiOauth.ExpiresAt > 0 {
		expiry := time.UnixMilli(cred.ClaudeAiOauth.ExpiresAt)
		if time.Until(expiry) < tokenFreshnessMargin {
			return "", errUnauthenticated
		}
	}
	return cred.ClaudeAiOauth.AccessToken, nil
}

type codexAuthFile struct {
	Tokens struct {
		AccessToken string `json:"access_token"`
		AccountID   string `json:"account_id"`
	} `json:"tokens"`
}

// CodexToken reads the ChatGPT access token and account id from
// ~/.codex/auth.json.
func (f *FileTokenSource) CodexToken(ctx context.Context) (string, string, error) {
	data, err := os.ReadFile(filepath.Join(homeDir(), ".codex", "auth.json"))
	if err != nil {
		return "", "", errUnauthenticated
	}
	var auth codexAuthFile
	if err := json.Unmarshal(data, &auth); err != nil {
		return "", "", errUnauthenticated
	}
	if auth.Tokens.AccessToken == "" {
		return "", "", errUnauthenticated
	}
	return auth.Tokens.AccessToken, auth.Tokens.AccountID, nil
}

type geminiCredsFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiryDate   int64  `json:"expiry_date"` // unix millis
}

// GeminiToken reads ~/.gemini/oauth_creds.json, refreshing the access
// token through the Google token endpoint when it is within the
// freshness margin of expiry, and writes the refreshed token back to the
// file since that is where it came from.
func (f *FileTokenSource) GeminiToken(ctx context.Context) (string, error) {
	path := filepath.Join(homeDir(), ".gemini", "oauth_creds.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errUnauthenticated
	}
	var creds geminiCredsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", errUnauthenticated
	}

	fresh := creds.ExpiryDate > 0 && time.Until(time.UnixMilli(creds.ExpiryDate)) > tokenFreshnessMargin
	if fresh && creds.AccessToken != "" {
		return creds.AccessToken, nil
	}
	if creds.RefreshToken == "" {
		return "", errUnauthenticated
	}

	form := fmt.Sprintf("client_id=%s&client_secret=%s&refresh_token=%s&grant_type=refresh_token",
		geminiClientID, geminiClientSecret, creds.RefreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://oauth2.googleapis.com/token", strings.NewReader(form))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{code: resp.StatusCode}
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", err
	}

	creds.AccessToken = tr.AccessToken
	creds.ExpiryDate = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).UnixMilli()
	if updated, err := json.Marshal(creds); err == nil {
		_ = os.WriteFile(path, updated, 0600)
	}
	return tr.AccessToken, nil
}

// GeminiProject discovers the Cloud Assist project id via
// loadCodeAssist, falling back to GOOGLE_CLOUD_PROJECT and
// ~/.gemini/settings.json.
func (f *FileTokenSource) GeminiProject(ctx context.Context, accessToken string) (string, error) {
	if p := f.loadCodeAssistProject(ctx, accessToken); p != "" {
		return p, nil
	}

	if p := os.Getenv("GOOGLE_CLOUD_PROJECT"); p != "" {
		return p, nil
	}

	data, err := os.ReadFile(filepath.Join(homeDir(), ".gemini", "settings.json"))
	if err == nil {
		var settings struct {
			Project string `json:"project"`
		}
		if json.Unmarshal(data, &settings) == nil && settings.Project != "" {
			return settings.Project, nil
		}
	}
	return "", fmt.Errorf("no gemini project discoverable")
}

func (f *FileTokenSource) loadCodeAssistProject(ctx context.Context, accessToken string) string {
	body, _ := json.Marshal(map[string]any{
		"metadata": map[string]string{
			"ideType":    "GEMINI_CLI",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist", bytes.NewReader(body))
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var lr struct {
		CloudaicompanionProject string `json:"cloudaicompanionProject"`
	}
	if json.NewDecoder(resp.Body).Decode(&lr) != nil {
		return ""
	}
	return lr.CloudaicompanionProject
}
