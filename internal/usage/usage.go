// Package usage implements the CLI Usage Probe: periodic reads of each
// provider's quota API with provider-specific token discovery (file, OS
// keychain, refresh flow), per spec.md §6. Failures are stored as
// {windows:[], error:"..."} snapshots rather than surfaced — the caller
// always sees success with empty windows, per spec.md §7.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/store"
	"github.com/nextlevelbuilder/climpire/pkg/protocol"
)

// Window is one quota window in a provider snapshot.
type Window struct {
	Label       string  `json:"label"`
	Utilization float64 `json:"utilization"` // 0..1
	ResetsAt    string  `json:"resetsAt,omitempty"`
}

// Snapshot is the cached per-provider quota state.
type Snapshot struct {
	Windows []Window `json:"windows"`
	Error   string   `json:"error,omitempty"`
}

// tokenFreshnessMargin is how close to expiry a stored token is still
// considered usable before a refresh is attempted.
const tokenFreshnessMargin = 5 * time.Minute

// Probe polls provider quota APIs and caches results in the Store.
type Probe struct {
	store  *store.Store
	bus    bus.EventPublisher
	http   *http.Client
	tokens TokenSource
	log    zerolog.Logger
	cron   *cron.Cron
}

// TokenSource discovers a usable access token per provider. Separated
// out so tests can stub discovery without touching the host's dotfiles.
type TokenSource interface {
	ClaudeToken(ctx context.Context) (string, error)
	CodexToken(ctx context.Context) (token, accountID string, err error)
	GeminiToken(ctx context.Context) (string, error)
	GeminiProject(ctx context.Context, accessToken string) (string, error)
}

// New creates a Probe.
func New(st *store.Store, eventBus bus.EventPublisher, tokens TokenSource, log zerolog.Logger) *Probe {
	return &Probe{
		store:  st,
		bus:    eventBus,
		http:   &http.Client{Timeout: 20 * time.Second},
		tokens: tokens,
		log:    log.With().Str("component", "usage").Logger(),
	}
}

// StartPeriodic schedules RefreshAll on a cron spec (e.g. "*/5 * * * *")
// and runs one refresh immediately in the background.
func (p *Probe) StartPeriodic(ctx context.Context, spec string) error {
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(spec, func() { p.RefreshAll(ctx) }); err != nil {
		return fmt.Errorf("usage: schedule refresh: %w", err)
	}
	p.cron.Start()
	go p.RefreshAll(ctx)
	return nil
}

// Stop halts the periodic schedule.
func (p *Probe) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

// RefreshAll polls every provider concurrently under one cancellation
// scope, persists each snapshot, and broadcasts one cli_usage_update.
func (p *Probe) RefreshAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { p.refreshOne(gctx, store.ProviderClaude, p.probeClaude); return nil })
	g.Go(func() error { p.refreshOne(gctx, store.ProviderCodex, p.probeCodex); return nil })
	g.Go(func() error { p.refreshOne(gctx, store.ProviderGemini, p.probeGemini); return nil })
	_ = g.Wait()

	snapshots, err := p.CachedAll(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("usage: failed to read cache after refresh")
		return
	}
	p.bus.Broadcast(bus.Event{Type: protocol.EventCliUsageUpdate, Payload: snapshots})
}

// CachedAll returns the cached snapshot for every probed provider.
func (p *Probe) CachedAll(ctx context.Context) (map[string]Snapshot, error) {
	rows, err := p.store.ListCliUsageCache(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Snapshot, len(rows))
	for _, row := range rows {
		var snap Snapshot
		if json.Unmarshal([]byte(row.WindowsJSON), &snap) != nil {
			snap = Snapshot{Error: "unavailable"}
		}
		out[row.Provider] = snap
	}
	return out, nil
}

func (p *Probe) refreshOne(ctx context.Context, provider string, probe func(context.Context) (*Snapshot, error)) {
	snap, err := probe(ctx)
	if err != nil {
		p.log.Debug().Err(err).Str("provider", provider).Msg("usage probe failed")
		snap = &Snapshot{Windows: []Window{}, Error: errorReason(err)}
	}
	if snap.Windows == nil {
		snap.Windows = []Window{}
	}
	data, _ := json.Marshal(snap)
	if err := p.store.UpsertCliUsageCache(ctx, provider, string(data)); err != nil {
		p.log.Warn().Err(err).Str("provider", provider).Msg("usage: failed to cache snapshot")
	}
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return fmt.Sprintf("http_%d", e.code) }

func errorReason(err error) string {
	if se, ok := err.(*httpStatusError); ok {
		return fmt.Sprintf("http_%d", se.code)
	}
	if err == errUnauthenticated {
		return "unauthenticated"
	}
	return "unavailable"
}

var errUnauthenticated = fmt.Errorf("unauthenticated")

// ---- Claude ----

type claudeUsageWindow struct {
	Utilization float64 `json:"utilization"` // 0..100
	ResetsAt    string  `json:"resets_at"`
}

type claudeUsageResp struct {
	FiveHour       *claudeUsageWindow `json:"five_hour"`
	SevenDay       *claudeUsageWindow `json:"seven_day"`
	SevenDaySonnet *claudeUsageWindow `json:"seven_day_sonnet"`
	SevenDayOpus   *claudeUsageWindow `json:"seven_day_opus"`
}

func (p *Probe) probeClaude(ctx context.Context) (*Snapshot, error) {
	token, err := p.tokens.ClaudeToken(ctx)
	if err != nil || token == "" {
		return nil, errUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.anthropic.com/api/oauth/usage", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{code: resp.StatusCode}
	}

	var parsed claudeUsageResp
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	add := func(label string, w *claudeUsageWindow) {
		if w == nil {
			return
		}
		snap.Windows = append(snap.Windows, Window{
			Label:       label,
			Utilization: math.Round(w.Utilization) / 100,
			ResetsAt:    w.ResetsAt,
		})
	}
	add("5-hour", parsed.FiveHour)
	add("7-day", parsed.SevenDay)
	add("7-day sonnet", parsed.SevenDaySonnet)
	add("7-day opus", parsed.SevenDayOpus)
	return snap, nil
}

// ---- Codex ----

type codexUsageResp struct {
	RateLimit struct {
		PrimaryWindow   *codexUsageWindow `json:"primary_window"`
		SecondaryWindow *codexUsageWindow `json:"secondary_window"`
	} `json:"rate_limit"`
}

type codexUsageWindow struct {
	UsedPercent float64 `json:"used_percent"`
	ResetAt     int64   `json:"reset_at"` // unix seconds
}

func (p *Probe) probeCodex(ctx context.Context) (*Snapshot, error) {
	token, accountID, err := p.tokens.CodexToken(ctx)
	if err != nil || token == "" {
		return nil, errUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://chatgpt.com/backend-api/wham/usage", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if accountID != "" {
		req.Header.Set("ChatGPT-Account-Id", accountID)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{code: resp.StatusCode}
	}

	var parsed codexUsageResp
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	add := func(label string, w *codexUsageWindow) {
		if w == nil {
			return
		}
		win := Window{Label: label, Utilization: w.UsedPercent / 100}
		if w.ResetAt > 0 {
			win.ResetsAt = time.Unix(w.ResetAt, 0).UTC().Format(time.RFC3339)
		}
		snap.Windows = append(snap.Windows, win)
	}
	add("5-hour", parsed.RateLimit.PrimaryWindow)
	add("7-day", parsed.RateLimit.SecondaryWindow)
	return snap, nil
}

// ---- Gemini ----

type geminiQuotaResp struct {
	Buckets []struct {
		Name              string  `json:"name"`
		RemainingFraction float64 `json:"remainingFraction"`
		ResetTime         string  `json:"resetTime"`
	} `json:"buckets"`
}

func (p *Probe) probeGemini(ctx context.Context) (*Snapshot, error) {
	token, err := p.tokens.GeminiToken(ctx)
	if err != nil || token == "" {
		return nil, errUnauthenticated
	}

	project, err := p.tokens.GeminiProject(ctx, token)
	if err != nil || project == "" {
		return nil, fmt.Errorf("gemini project discovery: %w", err)
	}

	body, _ := json.Marshal(map[string]string{"project": project})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://cloudcode-pa.googleapis.com/v1internal:retrieveUserQuota", jsonBody(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{code: resp.StatusCode}
	}

	var parsed geminiQuotaResp
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	for _, b := range parsed.Buckets {
		// Vertex-suffixed buckets belong to the paid tier and are dropped
		// from the free-tier snapshot.
		if len(b.Name) >= 7 && b.Name[len(b.Name)-7:] == "_vertex" {
			continue
		}
		snap.Windows = append(snap.Windows, Window{
			Label:       b.Name,
			Utilization: math.Round((1-b.RemainingFraction)*100) / 100,
			ResetsAt:    b.ResetTime,
		})
	}
	return snap, nil
}
