package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yeonjoon13/nearby-flights/internal/adsb"
	"github.com/yeonjoon13/nearby-flights/internal/api"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
)

type fakeImages struct {
	img  *adsb.Image
	err  error
	code string
}

func (f *fakeImages) Fetch(_ context.Context, code string) (*adsb.Image, error) {
	f.code = code
	return f.img, f.err
}

type fakePollers map[poller.Key]poller.PollerInfo

func (f fakePollers) Diagnostics() map[poller.Key]poller.PollerInfo { return f }

type fakeTokens struct{ capacity, tokens int }

func (f fakeTokens) Capacity() int { return f.capacity }
func (f fakeTokens) Tokens() int   { return f.tokens }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDocImage_Success(t *testing.T) {
	t.Parallel()
	images := &fakeImages{img: &adsb.Image{Status: 200, ContentType: "image/png", Body: []byte("PNG")}}
	r := api.NewRouter(api.Config{}, api.Deps{Images: images})

	rec := get(t, r, "/api/docimg/b73!8.jpg")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "B738", images.code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "public, max-age=86400, stale-while-revalidate=3600", rec.Header().Get("Cache-Control"))
	require.Equal(t, "PNG", rec.Body.String())
}

func TestDocImage_BadCode(t *testing.T) {
	t.Parallel()
	images := &fakeImages{}
	r := api.NewRouter(api.Config{}, api.Deps{Images: images})

	for _, target := range []string{"/api/docimg/!!!.jpg", "/api/docimg/B738.png"} {
		rec := get(t, r, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		require.Equal(t, "bad code", rec.Body.String())
	}
	require.Empty(t, images.code, "no upstream call for a bad code")
}

func TestDocImage_UpstreamStatusPassedThrough(t *testing.T) {
	t.Parallel()
	images := &fakeImages{img: &adsb.Image{Status: 404, ContentType: "text/plain", Body: []byte("not here")}}
	r := api.NewRouter(api.Config{}, api.Deps{Images: images})

	rec := get(t, r, "/api/docimg/ZZZZ.jpg")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Upstream returned 404: not here", rec.Body.String())
	require.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestDocImage_TransportFailureIs502(t *testing.T) {
	t.Parallel()
	r := api.NewRouter(api.Config{}, api.Deps{Images: &fakeImages{err: errors.New("dial tcp: refused")}})

	rec := get(t, r, "/api/docimg/A320.jpg")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "proxy error", rec.Body.String())
}

func TestDebugPollers(t *testing.T) {
	t.Parallel()
	r := api.NewRouter(api.Config{}, api.Deps{
		Pollers: fakePollers{"51.624_-0.270_250": {Subs: 2, LastOthersFetch: 1700, CachedOthers: 3, OthersTotal: 7}},
		Tokens:  fakeTokens{capacity: 60, tokens: 41},
	})

	rec := get(t, r, "/__debug/pollers")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"pollers": {"51.624_-0.270_250": {"subs": 2, "lastOthersFetch": 1700, "cachedOthers": 3, "othersTotal": 7}},
		"tokens": {"capacity": 60, "tokens": 41}
	}`, rec.Body.String())
}

func TestDebugPollers_Empty(t *testing.T) {
	t.Parallel()
	r := api.NewRouter(api.Config{}, api.Deps{Pollers: fakePollers{}, Tokens: fakeTokens{capacity: 60, tokens: 60}})

	rec := get(t, r, "/__debug/pollers")
	require.JSONEq(t, `{"pollers":{},"tokens":{"capacity":60,"tokens":60}}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	r := api.NewRouter(api.Config{}, api.Deps{})

	require.Equal(t, http.StatusOK, get(t, r, "/healthz").Code)

	rec := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimitOnRESTRoutes(t *testing.T) {
	t.Parallel()
	r := api.NewRouter(api.Config{RateLimit: 2}, api.Deps{Pollers: fakePollers{}, Tokens: fakeTokens{}})

	require.Equal(t, http.StatusOK, get(t, r, "/__debug/pollers").Code)
	require.Equal(t, http.StatusOK, get(t, r, "/__debug/pollers").Code)
	require.Equal(t, http.StatusTooManyRequests, get(t, r, "/__debug/pollers").Code)

	// ops endpoints are not limited
	require.Equal(t, http.StatusOK, get(t, r, "/healthz").Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	r := api.NewRouter(api.Config{CORSOrigins: []string{"https://example.com"}}, api.Deps{Pollers: fakePollers{}, Tokens: fakeTokens{}})

	req := httptest.NewRequest(http.MethodOptions, "/__debug/pollers", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStaticFallback(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600))
	r := api.NewRouter(api.Config{StaticDir: dir}, api.Deps{})

	rec := get(t, r, "/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "console.log(1)", rec.Body.String())

	for _, target := range []string{"/", "/map/somewhere"} {
		rec = get(t, r, target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		require.Equal(t, "<html>app</html>", rec.Body.String(), target)
	}
}

func TestNoStaticDirIs404(t *testing.T) {
	t.Parallel()
	r := api.NewRouter(api.Config{}, api.Deps{})
	require.Equal(t, http.StatusNotFound, get(t, r, "/anything").Code)
}
