package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handlerSrc = `package api

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns node health
// @Response: {"status": "ok"}
func HandleHealth() {}

// @Title: Incomplete
// @Response: dropped, no route
func Incomplete() {}

// @Title: Get Logs
// @Route: GET /api/logs?n=50
// @Response: [...]
func HandleLogs() {}
`

func TestParseAndRender(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "health.go"), []byte(handlerSrc), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "health_test.go"), []byte(handlerSrc), 0o600))

	endpoints, err := parseEndpoints(dir)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, Endpoint{
		Title:       "Get Health",
		Route:       "GET /api/health",
		Description: "Returns node health",
		Response:    `{"status": "ok"}`,
	}, endpoints[0])
	assert.Empty(t, endpoints[1].Description)

	out := render(endpoints)
	assert.Contains(t, out, "= talkd HTTP API\n")
	assert.Contains(t, out, "\n== Get Logs\n\n`GET /api/logs?n=50`\n\nResponse: `[...]`\n")
}

func TestBundledReferenceIsCurrent(t *testing.T) {
	endpoints, err := parseEndpoints("../../internal/api")
	require.NoError(t, err)

	want, err := os.ReadFile("../../internal/docs/api.adoc")
	require.NoError(t, err)
	assert.Equal(t, string(want), render(endpoints), "run go generate ./internal/docs")
}
