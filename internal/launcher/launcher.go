// Package launcher unifies the Child Runner and HTTP Agent Runner behind
// one dispatch surface so the Orchestrator and Meeting Engine don't need
// to know which transport a given provider uses, per spec.md §4.6 ("the
// same interface as the Child Runner").
package launcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/climpire/internal/httprunner"
	"github.com/nextlevelbuilder/climpire/internal/runner"
	"github.com/nextlevelbuilder/climpire/internal/store"
)

// Launcher dispatches Start/RunOnce to the Child Runner for CLI
// providers and to the HTTP Agent Runner for copilot/antigravity.
type Launcher struct {
	cli  *runner.Runner
	http *httprunner.Runner
}

// New creates a Launcher wrapping both runner backends.
func New(cli *runner.Runner, httpRunner *httprunner.Runner) *Launcher {
	return &Launcher{cli: cli, http: httpRunner}
}

// Start spawns the agent's long-lived run against a task.
func (l *Launcher) Start(ctx context.Context, taskID, provider, model, reasoningEffort, prompt, workDir string, onOutput runner.OutputFunc, onLine runner.LineFunc) (*runner.Handle, error) {
	if httprunner.Supports(provider) {
		return l.http.Start(ctx, taskID, provider, prompt, onOutput, onLine)
	}
	return l.cli.Start(ctx, taskID, provider, model, reasoningEffort, prompt, workDir, onOutput, onLine)
}

// RunOnce performs the one-shot CLI/HTTP contract used by meeting turns
// and direct chat replies: a single prompt, a hard timeout, output
// captured and returned as a string, per spec.md §4.7.
func (l *Launcher) RunOnce(ctx context.Context, logID, provider, model, reasoningEffort, prompt, workDir string, timeout time.Duration, onOutput runner.OutputFunc) (string, error) {
	if !httprunner.Supports(provider) {
		return l.cli.RunOnce(ctx, logID, provider, model, reasoningEffort, prompt, workDir, timeout, onOutput)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out strings.Builder
	var mu sync.Mutex
	capture := func(stream, data string) {
		mu.Lock()
		out.WriteString(data)
		mu.Unlock()
		if onOutput != nil {
			onOutput(stream, data)
		}
	}

	h, err := l.http.Start(runCtx, logID, provider, prompt, capture, nil)
	if err != nil {
		return "", err
	}

	select {
	case code := <-h.Done:
		mu.Lock()
		defer mu.Unlock()
		if code != 0 {
			return out.String(), fmt.Errorf("one-shot http run failed")
		}
		return out.String(), nil
	case <-runCtx.Done():
		_ = h.Kill()
		<-h.Done
		mu.Lock()
		defer mu.Unlock()
		return out.String(), fmt.Errorf("one-shot http run timed out after %s", timeout)
	}
}

// IsCLIProvider reports whether provider is routed through the Child
// Runner rather than the HTTP Agent Runner.
func IsCLIProvider(provider string) bool {
	switch provider {
	case store.ProviderClaude, store.ProviderCodex, store.ProviderGemini, store.ProviderOpenCode:
		return true
	default:
		return false
	}
}
