package shellcache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Network performs a request against the real network. An error means the
// network could not be reached; any HTTP status, 5xx included, is a success.
type Network interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// hopHeaders are connection-scoped and never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type originNetwork struct {
	origin string
	client *http.Client
}

// NewOriginNetwork forwards requests to origin. A zero timeout leaves hung
// requests hanging until the caller's context ends.
func NewOriginNetwork(origin string, timeout time.Duration) Network {
	return &originNetwork{
		origin: strings.TrimRight(origin, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (n *originNetwork) Fetch(ctx context.Context, r Request) (Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.origin+r.URL, body)
	if err != nil {
		return Response{}, errors.Wrap(err, "build request")
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := n.client.Do(req)
	if err != nil {
		return Response{}, errors.Wrapf(err, "fetch %s", r.URL)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errors.Wrapf(err, "read %s", r.URL)
	}

	out := Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     cloneHeader(resp.Header),
		Body:       b,
	}
	out.Header.Del("Content-Length")
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return out, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || isHopHeader(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(k string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(k, h) {
			return true
		}
	}
	return false
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
