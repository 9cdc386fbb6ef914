package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/patchhistory/internal/app"
	"github.com/rpattn/patchhistory/internal/config"
	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/store/memstore"
)

func newHandler(t *testing.T) (http.Handler, *odm.Document) {
	t.Helper()
	ctx := context.Background()
	catalog, err := app.Build(ctx, odm.NewConnection(memstore.New()), []config.CollectionConfig{{
		Name:   "Note",
		Fields: []domain.FieldDefinition{{Name: "body", Type: domain.FieldTypeString}},
	}}, nil)
	require.NoError(t, err)
	entry, err := catalog.Lookup("note")
	require.NoError(t, err)
	doc, err := entry.Model.Create(ctx, map[string]any{"body": "hello"})
	require.NoError(t, err)
	return NewHandler(config.Default().Server, catalog, nil), doc
}

func TestHandlerRoutes(t *testing.T) {
	handler, doc := newHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/patches/note/%v", doc.ID()), nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status      string   `json:"status"`
		Collections []string `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"note"}, health.Collections)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "patchhistory_tracker_patches_created_total")
}

func TestCORSPreflight(t *testing.T) {
	handler, doc := newHandler(t)

	req := httptest.NewRequest(http.MethodOptions, fmt.Sprintf("/patches/note/%v", doc.ID()), nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunStopsOnCancel(t *testing.T) {
	catalog := app.NewCatalog(odm.NewConnection(memstore.New()), nil)
	cfg := config.Default().Server
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, catalog, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.Run(ctx))
}
