package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/config"
	rediscache "github.com/baechuer/real-time-ressys/services/history-service/internal/infrastructure/caching/redis"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:         ":0",
		JWTSecret:        "secret",
		HistoryKeyPrefix: "history:",
		HistoryTTL:       time.Hour,
		SyncInterval:     50 * time.Minute,
		NodeID:           1,
		RecordWorkers:    1,
		RecordQueue:      4,
		PageSizeDefault:  20,
		PageSizeMax:      100,
	}
}

func newTestApp(t *testing.T) (*App, *miniredis.Miniredis, sqlmock.Sqlmock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := rediscache.New(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	app, err := NewApp(testConfig(), db, rc)
	require.NoError(t, err)
	return app, mr, mock
}

func TestNewApp_RecordsViewIntoRedis(t *testing.T) {
	app, mr, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/history/views", strings.NewReader(`{"product":{"id":"p-1","name":"Lamp"}}`))
	req.Header.Set("X-Device-Fingerprint", "fp-1")
	rr := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)

	// drains the queue
	app.Jobs.Stop()

	members, err := mr.ZMembers("history:fp-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members[0], `"p-1"`)
	assert.Equal(t, time.Hour, mr.TTL("history:fp-1"))
}

func TestNewApp_Readiness(t *testing.T) {
	app, _, mock := newTestApp(t)
	mock.ExpectPing()

	rr := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewApp_RejectsBadNodeID(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := rediscache.New(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer rc.Close()

	cfg := testConfig()
	cfg.NodeID = 5000
	_, err = NewApp(cfg, nil, rc)
	assert.Error(t, err)
}

func TestApp_StartWithoutBackgroundLoops(t *testing.T) {
	app, _, _ := newTestApp(t)
	defer app.Jobs.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, app.Start(ctx))
	assert.Nil(t, app.Consumer)
}

func TestNewApp_SyncTriggerFollowsSyncEnabled(t *testing.T) {
	trigger := func(app *App) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		app.Server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/v1/history/sync", nil))
		return rr
	}

	t.Run("disabled", func(t *testing.T) {
		app, _, _ := newTestApp(t)
		defer app.Jobs.Stop()
		assert.Equal(t, http.StatusServiceUnavailable, trigger(app).Code)
	})

	t.Run("enabled", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rc, err := rediscache.New(mr.Addr(), "", 0)
		require.NoError(t, err)
		defer rc.Close()

		cfg := testConfig()
		cfg.SyncEnabled = true
		app, err := NewApp(cfg, nil, rc)
		require.NoError(t, err)
		defer app.Jobs.Stop()

		rr := trigger(app)
		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.JSONEq(t, `{"data":{"queued":true}}`, rr.Body.String())
	})
}
