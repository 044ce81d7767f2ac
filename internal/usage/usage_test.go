package usage

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorReasonMapping(t *testing.T) {
	assert.Equal(t, "http_429", errorReason(&httpStatusError{code: 429}))
	assert.Equal(t, "unauthenticated", errorReason(errUnauthenticated))
	assert.Equal(t, "unavailable", errorReason(fmt.Errorf("dial tcp: timeout")))
}

func TestSnapshotWireShape(t *testing.T) {
	snap := Snapshot{
		Windows: []Window{{Label: "5-hour", Utilization: 0.42, ResetsAt: "2026-08-01T00:00:00Z"}},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"windows":[{"label":"5-hour","utilization":0.42,"resetsAt":"2026-08-01T00:00:00Z"}]}`, string(data))

	failed := Snapshot{Windows: []Window{}, Error: "http_503"}
	data, err = json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"windows":[],"error":"http_503"}`, string(data))
}

func TestClaudeUtilizationRounding(t *testing.T) {
	// 0..100 utilization maps to round(v)/100.
	var parsed claudeUsageResp
	require.NoError(t, json.Unmarshal([]byte(`{"five_hour":{"utilization":41.7,"resets_at":"2026-08-01T05:00:00Z"}}`), &parsed))
	require.NotNil(t, parsed.FiveHour)
	assert.InDelta(t, 41.7, parsed.FiveHour.Utilization, 0.001)
}
