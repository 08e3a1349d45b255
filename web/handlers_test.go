package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EndurnyrProject/lifthrasir/assets"
	"github.com/EndurnyrProject/lifthrasir/render"
	"github.com/EndurnyrProject/lifthrasir/sprcache"
)

type stubRenderer struct {
	failWith map[string]error
}

func (r *stubRenderer) Render(req *render.Request) (*render.Result, error) {
	if err, ok := r.failWith[req.SpritePath]; ok {
		return nil, err
	}
	return &render.Result{PNG: []byte("fake png"), Width: 2, Height: 2, OffsetX: 5, OffsetY: -3}, nil
}

func newTestRouter(t *testing.T) (*mux.Router, *sprcache.Cache) {
	t.Helper()
	stub := &stubRenderer{failWith: map[string]error{
		"missing.spr": errors.Wrap(assets.ErrNotFound, "missing.spr"),
		"badidx.spr":  errors.Wrap(render.ErrInvalidIndex, "action 9"),
		"broken.spr":  errors.New("archive exploded"),
	}}
	cache, err := sprcache.New(stub, t.TempDir(), 8)
	require.NoError(t, err)

	r := mux.NewRouter()
	NewHandler(cache).RegisterRoutes(r)
	return r, cache
}

func get(r *mux.Router, url string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", url, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func post(r *mux.Router, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", url, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSpriteHandler(t *testing.T) {
	r, _ := newTestRouter(t)

	w := get(r, "/sprite.png?sprite=data/sprite/poring.spr&action=1&frame=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "5", w.Header().Get("X-Sprite-Offset-X"))
	assert.Equal(t, "-3", w.Header().Get("X-Sprite-Offset-Y"))
	assert.Equal(t, "fake png", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("ETag"))
}

func TestSpriteHandlerNotModified(t *testing.T) {
	r, _ := newTestRouter(t)

	first := get(r, "/sprite.png?sprite=poring.spr", nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := get(r, "/sprite.png?sprite=poring.spr", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.String())
}

func TestSpriteHandlerBadParams(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, url := range []string{
		"/sprite.png",
		"/sprite.png?sprite=poring.spr&action=abc",
		"/sprite.png?sprite=poring.spr&frame=abc",
		"/sprite.png?sprite=poring.spr&scale=abc",
	} {
		w := get(r, url, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "url %s", url)
	}
}

func TestSpriteHandlerErrorMapping(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, tt := range []struct {
		sprite string
		want   int
	}{
		{"missing.spr", http.StatusNotFound},
		{"badidx.spr", http.StatusBadRequest},
		{"broken.spr", http.StatusInternalServerError},
	} {
		w := get(r, "/sprite.png?sprite="+tt.sprite, nil)
		assert.Equal(t, tt.want, w.Code, "sprite %s", tt.sprite)
	}
}

func TestStatsHandler(t *testing.T) {
	r, cache := newTestRouter(t)

	_, err := cache.GetOrGenerate(&render.Request{SpritePath: "poring.spr"})
	require.NoError(t, err)

	w := get(r, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats sprcache.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.MemoryEntries)
	assert.Equal(t, 1, stats.DiskEntries)
}

func TestClearHandler(t *testing.T) {
	r, cache := newTestRouter(t)

	_, err := cache.GetOrGenerate(&render.Request{SpritePath: "poring.spr"})
	require.NoError(t, err)

	w := post(r, "/cache/clear", "")
	require.Equal(t, http.StatusOK, w.Code)

	stats := cache.Stats()
	assert.Equal(t, 0, stats.MemoryEntries)
	assert.Equal(t, 0, stats.DiskEntries)
}

func TestPreloadHandler(t *testing.T) {
	r, _ := newTestRouter(t)

	w := post(r, "/cache/preload", `{"frames":[
		{"sprite":"a.spr"},
		{"sprite":"broken.spr"},
		{"sprite":"b.spr","action":1,"frame":2,"scale":2}
	]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result sprcache.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Total)
	assert.Len(t, result.Succeeded, 2)
	assert.Len(t, result.Failed, 1)
}

func TestPreloadHandlerBadBody(t *testing.T) {
	r, _ := newTestRouter(t)
	w := post(r, "/cache/preload", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
