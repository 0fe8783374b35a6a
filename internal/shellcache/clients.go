package shellcache

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrUnknownClient = errors.New("unknown client")

// Clients is the manager's view of the pages in its scope.
type Clients interface {
	// Claim makes generation the controller of every open page.
	Claim(ctx context.Context, generation string) error
	OpenWindow(ctx context.Context, url string) (Client, error)
}

// clientRegistry tracks open pages. A page opened while a generation is
// active starts out controlled by it; pages opened earlier stay uncontrolled
// until a Claim.
type clientRegistry struct {
	mu      sync.Mutex
	clients map[string]*Client
	current string
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: map[string]*Client{}}
}

func (r *clientRegistry) Open(url string) Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Client{ID: uuid.NewString(), URL: url, Controller: r.current}
	r.clients[c.ID] = c
	return *c
}

func (r *clientRegistry) OpenWindow(_ context.Context, url string) (Client, error) {
	return r.Open(url), nil
}

func (r *clientRegistry) Claim(_ context.Context, generation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = generation
	for _, c := range r.clients {
		c.Controller = generation
	}
	return nil
}

func (r *clientRegistry) Get(id string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

func (r *clientRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return errors.Wrap(ErrUnknownClient, id)
	}
	delete(r.clients, id)
	return nil
}

func (r *clientRegistry) List() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *clientRegistry) ControlledBy(generation string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.clients {
		if c.Controller == generation {
			n++
		}
	}
	return n
}
