package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
)

const imageCacheControl = "public, max-age=86400, stale-while-revalidate=3600"

type tokensInfo struct {
	Capacity int `json:"capacity"`
	Tokens   int `json:"tokens"`
}

type pollersResponse struct {
	Pollers map[poller.Key]poller.PollerInfo `json:"pollers"`
	Tokens  tokensInfo                       `json:"tokens"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("failed to write JSON response")
	}
}

func respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DebugPollers lists every live poller and the limiter budget.
func (h *Handler) DebugPollers(w http.ResponseWriter, _ *http.Request) {
	resp := pollersResponse{Pollers: map[poller.Key]poller.PollerInfo{}}
	if h.deps.Pollers != nil {
		resp.Pollers = h.deps.Pollers.Diagnostics()
	}
	if h.deps.Tokens != nil {
		resp.Tokens = tokensInfo{Capacity: h.deps.Tokens.Capacity(), Tokens: h.deps.Tokens.Tokens()}
	}
	respondJSON(w, http.StatusOK, resp)
}

// DocImage proxies /api/docimg/{CODE}.jpg to the image host through the
// shared limiter.
func (h *Handler) DocImage(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	code := model.NormalizeTypeCode(strings.TrimSuffix(file, ".jpg"))
	if code == "" || !strings.HasSuffix(file, ".jpg") {
		respondText(w, http.StatusBadRequest, "bad code")
		return
	}

	img, err := h.deps.Images.Fetch(r.Context(), code)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("code", code).Msg("image proxy failed")
		respondText(w, http.StatusBadGateway, "proxy error")
		return
	}
	if img.Status < 200 || img.Status > 299 {
		respondText(w, img.Status, fmt.Sprintf("Upstream returned %d: %s", img.Status, img.Body))
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", imageCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Body); err != nil {
		logging.Debug().Err(err).Str("code", code).Msg("image write failed")
	}
}
