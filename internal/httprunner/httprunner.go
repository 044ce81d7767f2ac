// Package httprunner implements the HTTP Agent Runner for Copilot and
// Antigravity, per spec.md §4.6: providers with no CLI present the same
// interface as the Child Runner but run as in-process streaming HTTP
// calls, using a synthesized negative pid so the orchestrator's
// activeProcesses map stays uniform. SSE line-splitting follows the
// teacher's internal/providers/anthropic_stream.go event-shape handling.
package httprunner

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/nextlevelbuilder/climpire/internal/runner"
	"github.com/nextlevelbuilder/climpire/internal/store"
	"github.com/nextlevelbuilder/climpire/internal/vault"
)

// Embedded public installed-app OAuth client credentials, used for the
// Antigravity/Gemini Google refresh-token flow when no override is
// configured, per spec.md §6.
const (
	defaultGoogleClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	defaultGoogleClientSecret = "d-FL95Q19q7MQmFpd7hHD0Ty"
	defaultCloudAssistProject = "climpire-default-project"
)

var cloudAssistEndpoints = []string{
	"https://cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.googleapis.com",
	"https://autopush-cloudcode-pa.googleapis.com",
}

// Runner drives Copilot and Antigravity as OAuth-authenticated streaming
// HTTP calls.
type Runner struct {
	store  *store.Store
	vault  *vault.Vault
	http   *http.Client
	log    zerolog.Logger
	pidCtr int64

	googleClientID     string
	googleClientSecret string

	copilotTokenCache *cache.Cache
	discoveredProject atomic.Value
}

// New creates an HTTP Agent Runner. googleClientID/Secret override the
// embedded defaults when non-empty, per spec.md §6.
func New(st *store.Store, vlt *vault.Vault, googleClientID, googleClientSecret string, log zerolog.Logger) *Runner {
	if googleClientID == "" {
		googleClientID = defaultGoogleClientID
	}
	if googleClientSecret == "" {
		googleClientSecret = defaultGoogleClientSecret
	}
	return &Runner{
		store:              st,
		vault:              vlt,
		http:               &http.Client{Timeout: 0},
		log:                log.With().Str("component", "httprunner").Logger(),
		googleClientID:     googleClientID,
		googleClientSecret: googleClientSecret,
		copilotTokenCache:  cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Supports reports whether provider is handled by the HTTP Agent Runner.
func Supports(provider string) bool {
	return provider == store.ProviderCopilot || provider == store.ProviderAntigravity
}

// Start begins a streaming HTTP call for provider against prompt,
// multiplexing output the same way the Child Runner does: to onOutput
// (bus broadcast) and onLine (subtask-lifecycle parsing). The returned
// Handle carries a synthetic negative pid.
func (r *Runner) Start(ctx context.Context, taskID, provider, prompt string, onOutput runner.OutputFunc, onLine runner.LineFunc) (*runner.Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	pid := int(-atomic.AddInt64(&r.pidCtr, 1))
	done := make(chan int, 1)

	go func() {
		defer cancel()
		var err error
		switch provider {
		case store.ProviderCopilot:
			err = r.runCopilot(runCtx, taskID, prompt, onOutput, onLine)
		case store.ProviderAntigravity:
			err = r.runAntigravity(runCtx, taskID, prompt, onOutput, onLine)
		default:
			err = fmt.Errorf("httprunner: unsupported provider %q", provider)
		}
		code := 0
		if err != nil {
			if runCtx.Err() == context.Canceled {
				code = 1
			} else {
				r.log.Warn().Err(err).Str("task_id", taskID).Str("provider", provider).Msg("http agent run failed")
				code = 1
			}
		}
		done <- code
		close(done)
	}()

	return runner.NewSyntheticHandle(pid, done, cancel), nil
}

func (r *Runner) logAndForward(taskID, stream, data string, onOutput runner.OutputFunc, onLine runner.LineFunc) {
	if onOutput != nil {
		onOutput(stream, data)
	}
	if onLine != nil && stream == "stdout" {
		for _, line := range strings.Split(data, "\n") {
			if line != "" {
				onLine(line)
			}
		}
	}
}

// ---- Copilot ----

type copilotTokenResp struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	Endpoints struct {
		API string `json:"api"`
	} `json:"endpoints"`
}

// exchangeCopilotToken exchanges the stored GitHub OAuth token for a
// short-lived bearer token, cached by SHA-256 of the source token with a
// 5-minute safety margin, per spec.md §4.6.
func (r *Runner) exchangeCopilotToken(ctx context.Context, githubToken string) (bearer, baseURL string, err error) {
	sum := sha256.Sum256([]byte(githubToken))
	cacheKey := hex.EncodeToString(sum[:])
	if cached, ok := r.copilotTokenCache.Get(cacheKey); ok {
		tok := cached.(copilotCached)
		return tok.bearer, tok.baseURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/copilot_internal/v2/token", nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "token "+githubToken)
	resp, err := r.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("copilot token exchange: http_%d", resp.StatusCode)
	}

	var tr copilotTokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", "", err
	}

	base := tr.Endpoints.API
	if base == "" {
		base = "https://api.githubcopilot.com"
	}
	// "proxy-ep=..." hint, embedded in some token payloads as a
	// semicolon-delimited annotation alongside the bearer token.
	for _, part := range strings.Split(tr.Token, ";") {
		if strings.HasPrefix(part, "proxy-ep=") {
			base = "https://" + strings.TrimPrefix(part, "proxy-ep=")
		}
	}

	ttl := 5 * time.Minute
	if tr.ExpiresAt > 0 {
		until := time.Until(time.Unix(tr.ExpiresAt, 0)) - 5*time.Minute
		if until > 0 {
			ttl = until
		}
	}
	r.copilotTokenCache.Set(cacheKey, copilotCached{bearer: tr.Token, baseURL: base}, ttl)
	return tr.Token, base, nil
}

type copilotCached struct {
	bearer  string
	baseURL string
}

type copilotChatRequest struct {
	Model    string              `json:"model"`
	Stream   bool                `json:"stream"`
	Messages []copilotChatMessage `json:"messages"`
}

type copilotChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (r *Runner) runCopilot(ctx context.Context, taskID, prompt string, onOutput runner.OutputFunc, onLine runner.LineFunc) error {
	cred, err := r.store.GetOAuthCredential(ctx, store.ProviderCopilot)
	if err != nil {
		return fmt.Errorf("copilot: no stored credential: %w", err)
	}
	githubToken, err := r.vault.Decrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("copilot: decrypt token: %w", err)
	}

	bearer, base, err := r.exchangeCopilotToken(ctx, githubToken)
	if err != nil {
		return err
	}

	body, err := json.Marshal(copilotChatRequest{
		Model:  "gpt-4o",
		Stream: true,
		Messages: []copilotChatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Copilot-Integration-Id", "climpire")

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("copilot chat/completions: http_%d", resp.StatusCode)
	}

	return r.streamOpenAISSE(resp.Body, taskID, onOutput, onLine)
}

type openAISSEChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (r *Runner) streamOpenAISSE(body io.Reader, taskID string, onOutput runner.OutputFunc, onLine runner.LineFunc) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" || payload == "" {
			continue
		}
		var chunk openAISSEChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			r.logAndForward(taskID, "stdout", c.Delta.Content, onOutput, onLine)
		}
	}
	return scanner.Err()
}

// ---- Antigravity ----

type googleTokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// refreshGoogleToken exchanges refreshToken for a new access token via
// https://oauth2.googleapis.com/token, per spec.md §4.6/§6.
func (r *Runner) refreshGoogleToken(ctx context.Context, refreshToken string) (accessToken string, expiresAt time.Time, err error) {
	form := fmt.Sprintf("client_id=%s&client_secret=%s&refresh_token=%s&grant_type=refresh_token",
		r.googleClientID, r.googleClientSecret, refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://oauth2.googleapis.com/token", strings.NewReader(form))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("google token refresh: http_%d", resp.StatusCode)
	}

	var tr googleTokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, err
	}
	return tr.AccessToken, time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second), nil
}

// accessTokenForAntigravity returns a valid access token, refreshing it
// (and persisting the refreshed token back to the Store) when
// expires_at is within 60s, per spec.md §4.6.
func (r *Runner) accessTokenForAntigravity(ctx context.Context) (string, error) {
	cred, err := r.store.GetOAuthCredential(ctx, store.ProviderAntigravity)
	if err != nil {
		return "", fmt.Errorf("antigravity: no stored credential: %w", err)
	}

	needsRefresh := cred.ExpiresAt == nil || time.Until(*cred.ExpiresAt) < 60*time.Second
	if !needsRefresh {
		return r.vault.Decrypt(cred.AccessToken)
	}

	refreshToken, err := r.vault.Decrypt(cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("antigravity: decrypt refresh token: %w", err)
	}
	accessToken, expiresAt, err := r.refreshGoogleToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	encAccess, err := r.vault.Encrypt(accessToken)
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateOAuthTokens(ctx, store.ProviderAntigravity, encAccess, expiresAt); err != nil {
		r.log.Warn().Err(err).Msg("antigravity: failed to persist refreshed token")
	}
	return accessToken, nil
}

type loadCodeAssistResponse struct {
	CloudaicompanionProject string `json:"cloudaicompanionProject"`
}

// discoverProject probes the three Google Cloud Assist endpoints in
// order, falling back to the compiled-in default, per spec.md §4.6.
func (r *Runner) discoverProject(ctx context.Context, accessToken string) string {
	body, _ := json.Marshal(map[string]any{
		"metadata": map[string]string{
			"ideType":    "GEMINI_CLI",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	})

	for _, ep := range cloudAssistEndpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep+"/v1internal:loadCodeAssist", bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.http.Do(req)
		if err != nil {
			continue
		}
		func() {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return
			}
			var lr loadCodeAssistResponse
			if json.NewDecoder(resp.Body).Decode(&lr) == nil && lr.CloudaicompanionProject != "" {
				r.discoveredProject.Store(lr.CloudaicompanionProject)
			}
		}()
		if p, ok := r.discoveredProject.Load().(string); ok && p != "" {
			return p
		}
	}
	return defaultCloudAssistProject
}

type antigravityRequest struct {
	Project     string `json:"project"`
	Model       string `json:"model"`
	RequestType string `json:"requestType"`
	UserAgent   string `json:"userAgent"`
	RequestID   string `json:"requestId"`
	Request     struct {
		Contents []antigravityContent `json:"contents"`
	} `json:"request"`
}

type antigravityContent struct {
	Role  string              `json:"role"`
	Parts []antigravityTextPart `json:"parts"`
}

type antigravityTextPart struct {
	Text string `json:"text"`
}

func (r *Runner) runAntigravity(ctx context.Context, taskID, prompt string, onOutput runner.OutputFunc, onLine runner.LineFunc) error {
	accessToken, err := r.accessTokenForAntigravity(ctx)
	if err != nil {
		return err
	}
	project := r.discoverProject(ctx, accessToken)

	reqBody := antigravityRequest{
		Project:     project,
		Model:       "gemini-2.0-flash-exp",
		RequestType: "agent",
		UserAgent:   "antigravity",
		RequestID:   uuid.NewString(),
	}
	reqBody.Request.Contents = []antigravityContent{
		{Role: "user", Parts: []antigravityTextPart{{Text: prompt}}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	base := cloudAssistEndpoints[0]
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/v1internal:streamGenerateContent?alt=sse", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("antigravity streamGenerateContent: http_%d", resp.StatusCode)
	}

	return r.streamGeminiSSE(resp.Body, taskID, onOutput, onLine)
}

type geminiSSEChunk struct {
	Response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	} `json:"response"`
}

func (r *Runner) streamGeminiSSE(body io.Reader, taskID string, onOutput runner.OutputFunc, onLine runner.LineFunc) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var chunk geminiSSEChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, cand := range chunk.Response.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				r.logAndForward(taskID, "stdout", part.Text, onOutput, onLine)
			}
		}
	}
	return scanner.Err()
}
