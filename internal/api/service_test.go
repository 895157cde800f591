package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talk.mini/talk/internal/docs"
	"talk.mini/talk/internal/events"
	"talk.mini/talk/internal/logger"
	"talk.mini/talk/internal/types"
)

type fakeCommits struct {
	info types.CommitInfo
	err  error
}

func (f fakeCommits) LastCommit() (types.CommitInfo, error) {
	return f.info, f.err
}

func setupTest(t *testing.T, commits CommitSource) (*Service, *events.Hub, *logger.Logger) {
	t.Helper()
	hub := events.NewHub()
	ring := logger.New(10)
	d := docs.NewService(fstest.MapFS{"guide.adoc": {Data: []byte("== Guide\n\nhello\n")}})
	return NewService(commits, hub, ring, d, "abcd"), hub, ring
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleHealth(t *testing.T) {
	svc, _, _ := setupTest(t, fakeCommits{info: types.CommitInfo{Height: 7, AppHash: []byte{0x01, 0xff}}})

	rec := get(t, svc.Routes(), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(7), body["height"])
	assert.Equal(t, "01ff", body["app_hash"])
}

func TestHandleHealthReportsBackendFailure(t *testing.T) {
	svc, _, _ := setupTest(t, fakeCommits{err: errors.New("disk gone")})

	rec := get(t, svc.Routes(), "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk gone")
}

func TestHandleVersion(t *testing.T) {
	svc, _, _ := setupTest(t, fakeCommits{})

	rec := get(t, svc.Routes(), "/api/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, types.Version, body["version"])
	assert.Equal(t, "abcd", body["id"])
}

func TestHandleLogs(t *testing.T) {
	svc, _, ring := setupTest(t, fakeCommits{})
	require.NoError(t, ring.Fire(&log.Entry{Message: "first", Level: log.InfoLevel}))
	require.NoError(t, ring.Fire(&log.Entry{Message: "second", Level: log.WarnLevel}))

	rec := get(t, svc.Routes(), "/api/logs?n=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []logger.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Text)

	assert.Equal(t, http.StatusBadRequest, get(t, svc.Routes(), "/api/logs?n=zero").Code)
}

func TestDocsEndpoints(t *testing.T) {
	svc, _, _ := setupTest(t, fakeCommits{})
	routes := svc.Routes()

	rec := get(t, routes, "/api/docs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["guide.adoc"]`, rec.Body.String())

	rec = get(t, routes, "/api/docs/guide.adoc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "hello")

	assert.Equal(t, http.StatusNotFound, get(t, routes, "/api/docs/nope.adoc").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	svc, _, _ := setupTest(t, fakeCommits{})

	rec := get(t, svc.Routes(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "talk_block_height")
}

func TestOnlyGetIsServed(t *testing.T) {
	svc, _, _ := setupTest(t, fakeCommits{})

	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	svc, hub, _ := setupTest(t, fakeCommits{})
	srv := httptest.NewServer(svc.Routes())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(events.Event{Kind: events.KindMessageLiked, Message: types.Message{ID: 3, Likes: 1}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.KindMessageLiked, ev.Kind)
	assert.Equal(t, uint64(1), ev.Message.Likes)
}
