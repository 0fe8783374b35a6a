package shellcache

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrNoActiveGeneration = errors.New("no active cache generation")

// Registration drives generations through
// absent -> installing -> installed-waiting -> active -> superseded -> deleted.
type Registration struct {
	clients *clientRegistry
	log     *log.Entry

	// serializes Register and ClientGone
	lifecycle sync.Mutex

	mu         sync.RWMutex
	installing *Manager
	waiting    *Manager
	active     *Manager
	retired    []*Manager
}

func NewRegistration(clients *clientRegistry, entry *log.Entry) *Registration {
	if entry == nil {
		entry = discardLogger()
	}
	return &Registration{clients: clients, log: entry}
}

// Active returns the manager intercepting requests, or nil.
func (r *Registration) Active() *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registration) Waiting() *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Register installs m and activates it when nothing holds it back: the
// manager skips waiting, there is no active generation, or no page is
// controlled by the active one. Otherwise m waits until ClientGone releases
// the last such page.
func (r *Registration) Register(ctx context.Context, m *Manager) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	r.installing = m
	r.mu.Unlock()

	err := m.Install(ctx)

	r.mu.Lock()
	r.installing = nil
	if err != nil {
		r.mu.Unlock()
		return errors.Wrapf(err, "install %s", m.CacheName())
	}
	if prev := r.waiting; prev != nil && prev != m {
		prev.setState(StateSuperseded)
		r.retired = append(r.retired, prev)
	}
	r.waiting = m
	activate := m.SkipWaiting() || r.active == nil || r.clients.ControlledBy(r.active.CacheName()) == 0
	r.mu.Unlock()

	if !activate {
		r.log.WithField("cache", m.CacheName()).Info("installed, waiting for controlled pages to close")
		return nil
	}
	return r.activateWaiting(ctx)
}

// ClientGone forgets a closed page and activates the waiting generation once
// no page is left under the active one.
func (r *Registration) ClientGone(ctx context.Context, id string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if err := r.clients.Remove(id); err != nil {
		return err
	}

	r.mu.RLock()
	w, a := r.waiting, r.active
	r.mu.RUnlock()
	if w == nil {
		return nil
	}
	if a != nil && r.clients.ControlledBy(a.CacheName()) > 0 {
		return nil
	}
	return r.activateWaiting(ctx)
}

func (r *Registration) activateWaiting(ctx context.Context) error {
	r.mu.Lock()
	w, old := r.waiting, r.active
	if w == nil {
		r.mu.Unlock()
		return nil
	}
	r.waiting = nil
	r.active = w
	if old != nil && old != w {
		old.setState(StateSuperseded)
		r.retired = append(r.retired, old)
	}
	r.mu.Unlock()

	err := w.Activate(ctx)

	// Anything retired whose storage is gone has reached the end of its life.
	r.mu.Lock()
	for _, m := range r.retired {
		if m.State() != StateSuperseded || m.CacheName() == w.CacheName() {
			continue
		}
		if ok, herr := m.storage.Has(m.CacheName()); herr == nil && !ok {
			m.setState(StateDeleted)
		}
	}
	r.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "activate %s", w.CacheName())
	}
	return nil
}

type GenerationStatus struct {
	Name  string          `json:"name"`
	State GenerationState `json:"state"`
}

type RegistrationStatus struct {
	Installing *GenerationStatus  `json:"installing,omitempty"`
	Waiting    *GenerationStatus  `json:"waiting,omitempty"`
	Active     *GenerationStatus  `json:"active,omitempty"`
	Retired    []GenerationStatus `json:"retired,omitempty"`
	Clients    []Client           `json:"clients"`
}

func (r *Registration) Status() RegistrationStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RegistrationStatus{
		Installing: generationStatus(r.installing),
		Waiting:    generationStatus(r.waiting),
		Active:     generationStatus(r.active),
		Clients:    r.clients.List(),
	}
	for _, m := range r.retired {
		st.Retired = append(st.Retired, *generationStatus(m))
	}
	return st
}

func generationStatus(m *Manager) *GenerationStatus {
	if m == nil {
		return nil
	}
	return &GenerationStatus{Name: m.CacheName(), State: m.State()}
}
