package adsb_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yeonjoon13/nearby-flights/internal/adsb"
	"github.com/yeonjoon13/nearby-flights/internal/testutil"
)

func TestImageClient_Fetch(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	mux := http.NewServeMux()
	mux.HandleFunc("/img/B738.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	})
	mux.HandleFunc("/img/NOPE.jpg", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such image", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	lim := &countingLimiter{}
	c := adsb.NewImageClient(srv.URL+"/img", lim, adsb.WithHTTPClient(srv.Client()))

	img, err := c.Fetch(ctx, "B738")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, img.Status)
	require.Equal(t, "image/jpeg", img.ContentType)
	require.Equal(t, []byte{0xff, 0xd8, 0xff}, img.Body)

	img, err = c.Fetch(ctx, "NOPE")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, img.Status)
	require.Contains(t, string(img.Body), "no such image")
	require.Equal(t, int32(2), lim.n.Load())
}

func TestImageClient_TransportFailure(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := adsb.NewImageClient(url, &countingLimiter{})
	_, err := c.Fetch(ctx, "B738")
	require.Error(t, err)
}
