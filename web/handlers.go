// Package web exposes the sprite cache over HTTP: rendered frames as
// PNG, plus cache management endpoints.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/EndurnyrProject/lifthrasir/assets"
	"github.com/EndurnyrProject/lifthrasir/render"
	"github.com/EndurnyrProject/lifthrasir/sprcache"
)

// Handler serves frames out of one cache.
type Handler struct {
	cache *sprcache.Cache
}

// NewHandler constructs a web handler over the cache.
func NewHandler(cache *sprcache.Cache) *Handler {
	return &Handler{cache: cache}
}

// RegisterRoutes attaches the handler's endpoints to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sprite.png", h.spriteHandler).Methods("GET")
	r.HandleFunc("/cache/stats", h.statsHandler).Methods("GET")
	r.HandleFunc("/cache/clear", h.clearHandler).Methods("POST")
	r.HandleFunc("/cache/preload", h.preloadHandler).Methods("POST")
}

// requestFromQuery builds a render request out of the query string.
func requestFromQuery(r *http.Request) (*render.Request, error) {
	q := r.URL.Query()

	req := &render.Request{
		SpritePath:  q.Get("sprite"),
		ActPath:     q.Get("act"),
		PalettePath: q.Get("palette"),
	}
	if req.SpritePath == "" {
		return nil, errors.New("missing sprite parameter")
	}

	var err error
	if v := q.Get("action"); v != "" {
		if req.ActionIndex, err = strconv.Atoi(v); err != nil {
			return nil, errors.New("action not a number")
		}
	}
	if v := q.Get("frame"); v != "" {
		if req.FrameIndex, err = strconv.Atoi(v); err != nil {
			return nil, errors.New("frame not a number")
		}
	}
	if v := q.Get("scale"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, errors.New("scale not a number")
		}
		req.Scale = float32(f)
	}
	return req, nil
}

func (h *Handler) spriteHandler(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	etag := `W/"spr:` + string(sprcache.KeyFor(req)) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("Cache-Control", "public; max-age=36000") // 36000 = 10h
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	resp, err := h.cache.GetOrGenerate(req)
	if err != nil {
		status := http.StatusInternalServerError
		switch errors.Cause(err) {
		case assets.ErrNotFound:
			status = http.StatusNotFound
		case render.ErrInvalidIndex, render.ErrMissingCompanion, render.ErrInvalidScale:
			status = http.StatusBadRequest
		}
		glog.Warningf("web: render %q: %v", req.SpritePath, err)
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public; max-age=36000") // 36000 = 10h
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Sprite-Offset-X", strconv.Itoa(resp.OffsetX))
	w.Header().Set("X-Sprite-Offset-Y", strconv.Itoa(resp.OffsetY))
	w.WriteHeader(http.StatusOK)
	w.Write(resp.PNG)
}

func (h *Handler) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.cache.Stats())
}

func (h *Handler) clearHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.ClearAll(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "cleared"})
}

// preloadBody is the JSON shape POSTed to /cache/preload.
type preloadBody struct {
	Frames []struct {
		Sprite  string  `json:"sprite"`
		Act     string  `json:"act"`
		Action  int     `json:"action"`
		Frame   int     `json:"frame"`
		Palette string  `json:"palette"`
		Scale   float32 `json:"scale"`
	} `json:"frames"`
}

func (h *Handler) preloadHandler(w http.ResponseWriter, r *http.Request) {
	var body preloadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	reqs := make([]*render.Request, 0, len(body.Frames))
	for _, f := range body.Frames {
		reqs = append(reqs, &render.Request{
			SpritePath:  f.Sprite,
			ActPath:     f.Act,
			ActionIndex: f.Action,
			FrameIndex:  f.Frame,
			PalettePath: f.Palette,
			Scale:       f.Scale,
		})
	}
	writeJSON(w, h.cache.PreloadBatch(reqs))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("web: encoding response: %v", err)
	}
}
