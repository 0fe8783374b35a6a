package shellcache

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("dial tcp: connection refused")

// fakeNetwork answers from a fixed table and counts every call.
type fakeNetwork struct {
	mu        sync.Mutex
	responses map[string]Response
	fail      map[string]error
	offline   bool
	calls     map[string]int
	total     int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		responses: map[string]Response{},
		fail:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (n *fakeNetwork) Fetch(_ context.Context, req Request) (Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	n.total++
	n.calls[method+" "+req.URL]++
	if n.offline {
		return Response{}, errOffline
	}
	if err, ok := n.fail[req.URL]; ok {
		return Response{}, err
	}
	resp, ok := n.responses[req.URL]
	if !ok {
		return Response{Status: http.StatusNotFound, StatusText: "Not Found", Header: http.Header{}, Body: []byte("not found")}, nil
	}
	return resp.Clone(), nil
}

func (n *fakeNetwork) serve(url string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	n.responses[url] = Response{Status: status, StatusText: http.StatusText(status), Header: h, Body: []byte(body)}
}

func (n *fakeNetwork) setOffline(v bool) {
	n.mu.Lock()
	n.offline = v
	n.mu.Unlock()
}

func (n *fakeNetwork) Total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.total
}

func (n *fakeNetwork) Calls(method, url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method+" "+url]
}

// serveShell makes every app shell URL of cfg reachable.
func (n *fakeNetwork) serveShell(cfg Config) {
	for _, u := range cfg.Cache.Shell {
		n.serve(u, http.StatusOK, "shell "+u)
	}
}

func testConfig(t *testing.T, extra string) Config {
	t.Helper()
	cfg, err := ParseConfig([]byte("server:\n  origin: http://origin.test\n" + extra))
	require.NoError(t, err)
	return cfg
}

type storageCase struct {
	name string
	open func(t *testing.T) CacheStorage
}

func storageCases() []storageCase {
	return []storageCase{
		{name: "memory", open: func(t *testing.T) CacheStorage { return NewMemStorage() }},
		{name: "leveldb", open: func(t *testing.T) CacheStorage {
			st, err := OpenLevelStorage(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		}},
	}
}
