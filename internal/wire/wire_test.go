package wire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline-rag-api/internal/config"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Store.Backend = BackendMemory
	cfg.Embedding.Endpoint = "http://127.0.0.1:1/v1"
	cfg.Embedding.Model = "text-embedding-3-small"
	cfg.Embedding.APIKey = "test"
	cfg.Retrieval.Tokenizer = "bigram"
	cfg.Security.Tenant.Header = "X-Tenant-ID"
	return cfg
}

func TestInitializeDataLayerUnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Backend = "sqlite"

	_, _, err := InitializeDataLayer(context.Background(), cfg)
	assert.ErrorContains(t, err, "sqlite")
}

func TestInitializeAppMemoryBackend(t *testing.T) {
	app, cleanup, err := InitializeApp(context.Background(), memoryConfig(), Options{})
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.Nil(t, app.Data.Producer)
	assert.Nil(t, app.Data.RateLimiter)
	assert.Empty(t, app.healthDependencies())

	engine := app.Router("test").Engine()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/timeline", nil)
	req.Header.Set("X-Tenant-ID", "t1")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)
}

func TestInitializeAppRequiresEmbeddingEndpoint(t *testing.T) {
	cfg := memoryConfig()
	cfg.Embedding.Endpoint = ""

	_, _, err := InitializeApp(context.Background(), cfg, Options{})
	assert.ErrorContains(t, err, "embedding endpoint")
}
