package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/markovbaj/markovbaj/pkg/markov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCorpus = []string{
	"the cat sat on the mat",
	"the dog ran far away",
	"a bird sang all day",
}

// newTestServer creates a Server backed by a temporary database and corpus
// file. The chain is not loaded.
func newTestServer(t *testing.T) (*Server, chan string) {
	t.Helper()
	dir := t.TempDir()

	corpusPath := filepath.Join(dir, "corpus.txt")
	require.NoError(t, os.WriteFile(corpusPath, []byte(strings.Join(testCorpus, "\n")), 0644))

	config := DefaultConfig()
	config.Server.DatabasePath = filepath.Join(dir, "markovbaj.db")
	config.Corpus.Path = corpusPath
	config.Corpus.Watch = false
	config.Markov.UnrelatedChance = 0

	db, err := initDB(config.Server.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	actionChan := make(chan string, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := NewServer(config, logger, db, actionChan)
	require.NoError(t, err)
	t.Cleanup(server.Close)

	return server, actionChan
}

func newLoadedTestServer(t *testing.T) *Server {
	t.Helper()
	server, _ := newTestServer(t)
	require.NoError(t, server.LoadInitial(context.Background()))
	return server
}

func doRequest(t *testing.T, server *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, HealthResponse{Status: "starting"}, decodeBody[HealthResponse](t, rec))

	require.NoError(t, server.LoadInitial(context.Background()))

	rec = doRequest(t, server, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HealthResponse{Status: "ok", ChainLoaded: true}, decodeBody[HealthResponse](t, rec))
}

func TestQuery(t *testing.T) {
	t.Run("not ready", func(t *testing.T) {
		server, _ := newTestServer(t)
		rec := doRequest(t, server, http.MethodGet, "/api/v1/query?input=hello", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	server := newLoadedTestServer(t)

	t.Run("contextual reply", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/query?input="+url.QueryEscape("have you seen the cat"), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[QueryResponse](t, rec)
		assert.Equal(t, "have you seen the cat", resp.Input)
		assert.True(t, resp.Contextual)
		assert.True(t, strings.HasPrefix(resp.Reply, "the cat"), "reply %q should continue the prompt", resp.Reply)
	})

	t.Run("empty prompt still answers", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/query", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[QueryResponse](t, rec)
		assert.False(t, resp.Contextual)
		assert.NotEmpty(t, resp.Reply)
	})

	t.Run("input too long", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/query?input="+strings.Repeat("a", maxQueryLength+1), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("limit counts characters", func(t *testing.T) {
		input := url.QueryEscape(strings.Repeat("é", maxQueryLength))
		rec := doRequest(t, server, http.MethodGet, "/api/v1/query?input="+input, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/api/v1/query", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestStatsAndReload(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/markov/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/markov/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reloaded := decodeBody[ChainResponse](t, rec)
	assert.NotEmpty(t, reloaded.ChainID)
	assert.Equal(t, 2, reloaded.Stats.Order)
	assert.Equal(t, len(testCorpus)*2, reloaded.Stats.StartFrequency)

	rec = doRequest(t, server, http.MethodGet, "/api/markov/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reloaded.ChainID, decodeBody[ChainResponse](t, rec).ChainID)

	// The rebuilt chain was saved under the configured name.
	info, err := server.store.GetModelInfo(context.Background(), server.config.Markov.ModelName)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Order)
}

func TestReloadFailureKeepsChain(t *testing.T) {
	server := newLoadedTestServer(t)
	before := server.engine.Current()

	require.NoError(t, os.WriteFile(server.config.Corpus.Path, []byte("\n\n"), 0644))

	rec := doRequest(t, server, http.MethodPost, "/api/markov/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Same(t, before, server.engine.Current())
}

func TestPrune(t *testing.T) {
	server := newLoadedTestServer(t)

	t.Run("bad request", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPost, "/api/markov/prune", strings.NewReader("{"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doRequest(t, server, http.MethodPost, "/api/markov/prune", strings.NewReader(`{"minFreq": -1}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("prune rare transitions", func(t *testing.T) {
		before := server.engine.Current().Chain.Stats()

		rec := doRequest(t, server, http.MethodPost, "/api/markov/prune", strings.NewReader(`{"minFreq": 1}`))
		require.Equal(t, http.StatusOK, rec.Code)

		after := decodeBody[ChainResponse](t, rec).Stats
		// Every transition in the corpus is seen exactly once.
		assert.Equal(t, 0, after.TotalChains)
		assert.Equal(t, before.StartWindows, after.StartWindows)
	})
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newLoadedTestServer(t)

	rec := doRequest(t, source, http.MethodGet, "/api/markov/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "default.json")
	exported := rec.Body.Bytes()

	target, _ := newTestServer(t)
	rec = doRequest(t, target, http.MethodPost, "/api/markov/import", bytes.NewReader(exported))
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, source.engine.Current().Chain.Stats(), target.engine.Current().Chain.Stats())

	rec = doRequest(t, target, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("invalid model", func(t *testing.T) {
		rec := doRequest(t, target, http.MethodPost, "/api/markov/import", strings.NewReader(`{"order": 2}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestModels(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/markov/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	require.NoError(t, server.LoadInitial(context.Background()))

	rec = doRequest(t, server, http.MethodGet, "/api/markov/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	models := decodeBody[[]markov.ModelInfo](t, rec)
	require.Len(t, models, 1)
	assert.Equal(t, "default", models[0].Name)
	assert.Equal(t, markov.NormalizerFold, models[0].Normalizer)

	rec = doRequest(t, server, http.MethodGet, "/api/markov/models/default", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, server, http.MethodDelete, "/api/markov/models/default", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, server, http.MethodDelete, "/api/markov/models/default", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, server, http.MethodDelete, "/api/markov/models/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadInitialFromStore(t *testing.T) {
	server := newLoadedTestServer(t)
	saved := server.engine.Current().Chain.Stats()

	// A corpus change is ignored when the saved model is preferred.
	require.NoError(t, os.WriteFile(server.config.Corpus.Path, []byte("something else entirely"), 0644))
	server.config.Markov.LoadFromStore = true

	fresh, err := NewServer(server.config, server.logger, server.db, make(chan string, 1))
	require.NoError(t, err)
	defer fresh.Close()

	require.NoError(t, fresh.LoadInitial(context.Background()))
	assert.Equal(t, saved, fresh.engine.Current().Chain.Stats())
}

func TestLoadInitialKeepsSavedNormalizer(t *testing.T) {
	server, _ := newTestServer(t)
	require.Equal(t, markov.NormalizerFold, server.config.Markov.Normalizer)

	// Under case folding "Hello" and "hello" would share a key.
	chain, err := markov.Build(
		markov.TokenizeAll(markov.NewDefaultTokenizer(), []string{"Hello there friend", "hello world again"}),
		2,
		markov.WithNormalizer(markov.TrimNormalizer),
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, markov.ExportChain(&buf, "trimmed", chain))
	rec := doRequest(t, server, http.MethodPost, "/api/markov/import", &buf)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	server.config.Markov.LoadFromStore = true
	restarted, err := NewServer(server.config, server.logger, server.db, make(chan string, 1))
	require.NoError(t, err)
	defer restarted.Close()

	require.NoError(t, restarted.LoadInitial(context.Background()))
	loaded := restarted.engine.Current().Chain
	assert.Equal(t, chain.Stats(), loaded.Stats())
	assert.Equal(t, markov.NormalizerTrim, loaded.Stats().Normalizer)
	assert.False(t, loaded.HasStart(markov.Window{markov.Text("HELLO"), markov.Text(" there")}))
}

func TestServerLifecycle(t *testing.T) {
	server, actionChan := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/server/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, VersionInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}, decodeBody[VersionInfo](t, rec))

	rec = doRequest(t, server, http.MethodGet, "/api/server/restart", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/server/restart", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, actionRestart, <-actionChan)

	rec = doRequest(t, server, http.MethodPost, "/api/server/shutdown", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, actionShutdown, <-actionChan)
}
