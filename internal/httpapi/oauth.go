package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/climpire/internal/store"
)

// Embedded public OAuth app credentials, overridable through
// OAUTH_GITHUB_CLIENT_ID / OAUTH_GOOGLE_CLIENT_ID and their secrets.
const (
	defaultGitHubClientID = "Iv1.b507a08c87ecfe98"
	defaultGoogleClientID = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	defaultGoogleSecret   = "d-FL95Q19q7MQmFpd7hHD0Ty"

	googleScopes = "https://www.googleapis.com/auth/cloud-platform https://www.googleapis.com/auth/userinfo.email"
)

func (s *Server) githubClient() (id, secret string) {
	id, secret = s.cfg.OAuth.GitHubClientID, s.cfg.OAuth.GitHubClientSecret
	if id == "" {
		id = defaultGitHubClientID
	}
	return id, secret
}

func (s *Server) googleClient() (id, secret string) {
	id, secret = s.cfg.OAuth.GoogleClientID, s.cfg.OAuth.GoogleClientSecret
	if id == "" {
		id, secret = defaultGoogleClientID, defaultGoogleSecret
	}
	return id, secret
}

func (s *Server) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	creds, err := s.store.ListOAuthCredentials(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	type status struct {
		Provider  string     `json:"provider"`
		Source    string     `json:"source"`
		Email     string     `json:"email,omitempty"`
		Scope     string     `json:"scope,omitempty"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
		Connected bool       `json:"connected"`
	}
	out := make([]status, 0, len(creds))
	for _, c := range creds {
		out = append(out, status{
			Provider: c.Provider, Source: c.Source, Email: c.Email,
			Scope: c.Scope, ExpiresAt: c.ExpiresAt, Connected: c.AccessToken != "",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

// handleOAuthStart begins the web OAuth handshake for github-copilot or
// antigravity, persisting a one-time state row (with an encrypted PKCE
// verifier for Google, "none" for GitHub) and redirecting to the
// provider's authorize URL.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	redirectTo := r.URL.Query().Get("redirect_to")

	switch provider {
	case "github-copilot":
		s.startGitHubOAuth(w, r, redirectTo)
	case "antigravity":
		s.startGoogleOAuth(w, r, redirectTo)
	default:
		writeError(w, http.StatusBadRequest, "unknown_provider", provider)
	}
}

func (s *Server) startGitHubOAuth(w http.ResponseWriter, r *http.Request, redirectTo string) {
	state := &store.OAuthState{Provider: "github-copilot", EncryptedVerifier: "none", RedirectTo: redirectTo}
	if err := s.store.CreateOAuthState(r.Context(), state); err != nil {
		writeDomainError(w, err)
		return
	}

	clientID, _ := s.githubClient()
	q := url.Values{
		"client_id":    {clientID},
		"redirect_uri": {s.cfg.OAuth.BaseURL + "/api/oauth/callback/github-copilot"},
		"scope":        {"read:user"},
		"state":        {state.ID},
	}
	http.Redirect(w, r, "https://github.com/login/oauth/authorize?"+q.Encode(), http.StatusFound)
}

func (s *Server) startGoogleOAuth(w http.ResponseWriter, r *http.Request, redirectTo string) {
	verifier := randomURLSafe(64)
	encVerifier, err := s.vault.Encrypt(verifier)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	state := &store.OAuthState{Provider: "google_antigravity", EncryptedVerifier: encVerifier, RedirectTo: redirectTo}
	if err := s.store.CreateOAuthState(r.Context(), state); err != nil {
		writeDomainError(w, err)
		return
	}

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	clientID, _ := s.googleClient()
	q := url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {s.cfg.OAuth.BaseURL + "/api/oauth/callback/antigravity"},
		"response_type":         {"code"},
		"scope":                 {googleScopes},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
		"state":                 {state.ID},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	http.Redirect(w, r, "https://accounts.google.com/o/oauth2/v2/auth?"+q.Encode(), http.StatusFound)
}

func (s *Server) handleOAuthCallbackGitHub(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	stateID := r.URL.Query().Get("state")

	state, err := s.store.ConsumeOAuthState(r.Context(), stateID, "github-copilot")
	if err != nil || state == nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "state is missing or expired")
		return
	}

	clientID, clientSecret := s.githubClient()
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
	}
	token, scope, err := s.exchangeGitHubCode(r.Context(), form)
	if err != nil {
		writeError(w, http.StatusBadGateway, "exchange_failed", err.Error())
		return
	}

	if err := s.storeGitHubToken(r.Context(), token, scope); err != nil {
		writeDomainError(w, err)
		return
	}
	s.redirectAfterOAuth(w, r, state.RedirectTo)
}

func (s *Server) exchangeGitHubCode(ctx context.Context, form url.Values) (token, scope string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://github.com/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("http_%d", resp.StatusCode)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", "", err
	}
	if tr.Error != "" {
		return "", "", fmt.Errorf("%s", tr.Error)
	}
	if tr.AccessToken == "" {
		return "", "", fmt.Errorf("empty access token")
	}
	return tr.AccessToken, tr.Scope, nil
}

func (s *Server) storeGitHubToken(ctx context.Context, token, scope string) error {
	encToken, err := s.vault.Encrypt(token)
	if err != nil {
		return err
	}
	return s.store.UpsertOAuthCredential(ctx, &store.OAuthCredential{
		Provider:    store.ProviderCopilot,
		Source:      "web-oauth",
		Scope:       scope,
		AccessToken: encToken,
	})
}

func (s *Server) handleOAuthCallbackAntigravity(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	stateID := r.URL.Query().Get("state")

	state, err := s.store.ConsumeOAuthState(r.Context(), stateID, "google_antigravity")
	if err != nil || state == nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "state is missing or expired")
		return
	}
	verifier, err := s.vault.Decrypt(state.EncryptedVerifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "verifier decrypt failed")
		return
	}

	clientID, clientSecret := s.googleClient()
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {s.cfg.OAuth.BaseURL + "/api/oauth/callback/antigravity"},
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		"https://oauth2.googleapis.com/token", strings.NewReader(form.Encode()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "exchange_failed", err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadGateway, "exchange_failed", fmt.Sprintf("http_%d", resp.StatusCode))
		return
	}

	var tr struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		writeError(w, http.StatusBadGateway, "exchange_failed", err.Error())
		return
	}

	encAccess, err := s.vault.Encrypt(tr.AccessToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	encRefresh := ""
	if tr.RefreshToken != "" {
		if encRefresh, err = s.vault.Encrypt(tr.RefreshToken); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	expiresAt := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	if err := s.store.UpsertOAuthCredential(r.Context(), &store.OAuthCredential{
		Provider:     store.ProviderAntigravity,
		Source:       "web-oauth",
		Scope:        tr.Scope,
		ExpiresAt:    &expiresAt,
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	s.redirectAfterOAuth(w, r, state.RedirectTo)
}

func (s *Server) redirectAfterOAuth(w http.ResponseWriter, r *http.Request, redirectTo string) {
	if redirectTo == "" {
		redirectTo = "/"
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

func (s *Server) handleOAuthDisconnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
	}
	if err := decodeBody(r, &body); err != nil || body.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider_required", "provider is required")
		return
	}
	if err := s.store.DeleteOAuthCredential(r.Context(), body.Provider); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": true})
}

// handleDeviceStart begins the GitHub device-code flow for headless
// setups.
func (s *Server) handleDeviceStart(w http.ResponseWriter, r *http.Request) {
	clientID, _ := s.githubClient()
	form := url.Values{"client_id": {clientID}, "scope": {"read:user"}}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		"https://github.com/login/device/code", strings.NewReader(form.Encode()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "device_start_failed", err.Error())
		return
	}
	defer resp.Body.Close()

	var dr struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		writeError(w, http.StatusBadGateway, "device_start_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dr)
}

func (s *Server) handleDevicePoll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceCode string `json:"device_code"`
	}
	if err := decodeBody(r, &body); err != nil || body.DeviceCode == "" {
		writeError(w, http.StatusBadRequest, "device_code_required", "device_code is required")
		return
	}

	clientID, _ := s.githubClient()
	form := url.Values{
		"client_id":   {clientID},
		"device_code": {body.DeviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	token, scope, err := s.exchangeGitHubCode(r.Context(), form)
	if err != nil {
		// authorization_pending / slow_down are expected mid-flow; the
		// client keeps polling.
		writeJSON(w, http.StatusOK, map[string]any{"pending": true, "error": err.Error()})
		return
	}

	if err := s.storeGitHubToken(r.Context(), token, scope); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true})
}

func randomURLSafe(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)[:n]
}
