package adsb

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Image is an upstream image answer. Status may be non-2xx, in which case
// Body holds at most the first 200 bytes of the error text.
type Image struct {
	Status      int
	ContentType string
	Body        []byte
}

// ImageClient fetches aircraft type pictures by ICAO designator.
type ImageClient struct {
	baseURL string
	t       *transport
}

func NewImageClient(baseURL string, limiter Limiter, opts ...Option) *ImageClient {
	o := buildOptions(opts)
	return &ImageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport("adsb-images", limiter, o),
	}
}

// Fetch loads <base>/<code>.jpg. Only transport failures and an open
// breaker return an error; upstream error statuses are passed back in Image.
func (c *ImageClient) Fetch(ctx context.Context, code string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(code)+".jpg", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.t.do(ctx, EndpointImage, req)
	var se *StatusError
	switch {
	case err == nil:
		ct := resp.header.Get("Content-Type")
		if ct == "" {
			ct = "image/jpeg"
		}
		return &Image{Status: resp.status, ContentType: ct, Body: resp.body}, nil
	case errors.As(err, &se):
		return &Image{Status: se.Status, ContentType: "text/plain", Body: []byte(se.Body)}, nil
	default:
		return nil, err
	}
}
