package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/climpire/internal/config"
	"github.com/nextlevelbuilder/climpire/internal/errs"
)

func testConfig() *config.Config { return config.Default() }

func TestHandleHealth(t *testing.T) {
	s := &Server{version: "v1.2.3"}
	s.cfg = testConfig()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "v1.2.3", body["version"])
	assert.Equal(t, "climpire", body["app"])
}

func TestWriteDomainErrorMapping(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, errs.NewInputError("already_running", "task already has an active process"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "already_running", body["error"])

	rec = httptest.NewRecorder()
	writeDomainError(rec, errs.NewNotFoundError("task", "nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"])
}
