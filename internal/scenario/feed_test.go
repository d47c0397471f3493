package scenario_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/stampede/internal/config"
	"github.com/torosent/stampede/internal/feeder"
	"github.com/torosent/stampede/internal/runner"
	"github.com/torosent/stampede/internal/scenario"
)

type seenRequest struct {
	path, token, body string
}

func recordingServer(t *testing.T) (*httptest.Server, func() []seenRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []seenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, seenRequest{path: r.URL.Path, token: r.Header.Get("Authorization"), body: string(b)})
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)
	return srv, func() []seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]seenRequest(nil), seen...)
	}
}

func TestHTTPScenarioExpandsFeederRows(t *testing.T) {
	srv, requests := recordingServer(t)

	feed, err := feeder.New([]feeder.Record{
		{"id": "1", "token": "t-one"},
		{"id": "2", "token": "t-two"},
	}, false)
	require.NoError(t, err)
	body, err := scenario.NewBodySource(`{"user":{{id}}}`, "")
	require.NoError(t, err)

	sc, err := scenario.NewHTTP(scenario.HTTPOptions{
		Method:  http.MethodPost,
		URL:     srv.URL + "/users/{{id}}",
		Headers: map[string]string{"Authorization": "Bearer {{token}}", "X-Static": "yes"},
		Body:    body,
		Feed:    feed,
	})
	require.NoError(t, err)

	for id := int64(1); id <= 3; id++ {
		_, err := sc.Run(context.Background(), runner.Iteration{ID: id})
		require.NoError(t, err)
	}

	got := requests()
	require.Len(t, got, 3)
	assert.Equal(t, seenRequest{path: "/users/1", token: "Bearer t-one", body: `{"user":1}`}, got[0])
	assert.Equal(t, seenRequest{path: "/users/2", token: "Bearer t-two", body: `{"user":2}`}, got[1])
	assert.Equal(t, "/users/1", got[2].path, "rows wrap around")
}

func TestHTTPScenarioAbortsWhenFeederExhausted(t *testing.T) {
	srv, requests := recordingServer(t)

	feed, err := feeder.New([]feeder.Record{{"id": "only"}}, true)
	require.NoError(t, err)
	sc, err := scenario.NewHTTP(scenario.HTTPOptions{URL: srv.URL + "/{{id}}", Feed: feed})
	require.NoError(t, err)

	_, err = sc.Run(context.Background(), runner.Iteration{ID: 1})
	require.NoError(t, err)

	_, err = sc.Run(context.Background(), runner.Iteration{ID: 2})
	var abort *runner.AbortError
	require.True(t, errors.As(err, &abort), "error = %v", err)
	assert.ErrorIs(t, err, feeder.ErrExhausted)
	assert.Len(t, requests(), 1)
}

func TestFromConfigLoadsFeeder(t *testing.T) {
	srv, requests := recordingServer(t)
	path := filepath.Join(t.TempDir(), "users.csv")
	require.NoError(t, os.WriteFile(path, []byte("id\n7\n"), 0o644))

	cfg := config.Defaults()
	cfg.TargetURL = srv.URL + "/users/{{id}}"
	cfg.Feeder = config.FeederConfig{Path: path}

	sc, err := scenario.FromConfig(cfg, nil, false, nil)
	require.NoError(t, err)
	_, err = sc.Run(context.Background(), runner.Iteration{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "/users/7", requests()[0].path)

	cfg.Feeder.Path = filepath.Join(t.TempDir(), "missing.csv")
	_, err = scenario.FromConfig(cfg, nil, false, nil)
	assert.Error(t, err)
}
