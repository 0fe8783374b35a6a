package shellcache

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OfflineBody is the body of the response synthesized when the network is
// unreachable and nothing is cached.
const OfflineBody = "You are offline. Please check your internet connection."

// Outcomes reported in the X-Shellcache response header.
const (
	outcomeHit        = "hit"
	outcomeMiss       = "miss"
	outcomeNetwork    = "network"
	outcomeOffline    = "offline"
	outcomeBypass     = "bypass"
	outcomeBadGateway = "bad-gateway"
)

// OfflineResponse builds the substitute served when the network fails.
func OfflineResponse() Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	return Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: http.StatusText(http.StatusServiceUnavailable),
		Header:     h,
		Body:       []byte(OfflineBody),
	}
}

// Deps are the collaborators a Manager operates on.
type Deps struct {
	Storage  CacheStorage
	Network  Network
	Clients  Clients
	Notifier Notifier
	Log      *log.Entry

	stats *statsCollector
	now   func() time.Time
}

// Manager owns one cache generation: it installs the app shell into it,
// activates it and serves requests from it.
type Manager struct {
	name        string
	shell       []string
	skipWaiting bool
	syncCfg     SyncConfig
	pushCfg     PushConfig

	storage  CacheStorage
	network  Network
	clients  Clients
	notifier Notifier

	log        *log.Entry
	offlineLog *rateLimitedLogger
	stats      *statsCollector
	now        func() time.Time

	mu    sync.Mutex
	state GenerationState
}

func NewManager(cfg Config, deps Deps) *Manager {
	entry := deps.Log
	if entry == nil {
		entry = discardLogger()
	}
	entry = entry.WithField("cache", cfg.Cache.Name())
	now := deps.now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		name:        cfg.Cache.Name(),
		shell:       append([]string(nil), cfg.Cache.Shell...),
		skipWaiting: cfg.skipWaiting(),
		syncCfg:     cfg.Sync,
		pushCfg:     cfg.Push,
		storage:     deps.Storage,
		network:     deps.Network,
		clients:     deps.Clients,
		notifier:    deps.Notifier,
		log:         entry,
		offlineLog:  newRateLimitedLogger(entry, 10*time.Second),
		stats:       deps.stats,
		now:         now,
	}
}

// CacheName is the generation this manager owns.
func (m *Manager) CacheName() string { return m.name }

// SkipWaiting reports whether a successful install should activate right away
// instead of waiting for pages controlled by the previous generation to go.
func (m *Manager) SkipWaiting() bool { return m.skipWaiting }

func (m *Manager) State() GenerationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s GenerationState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.log.WithFields(log.Fields{"from": prev, "to": s}).Debug("generation state")
	}
}

// Install fetches every app shell URL and stores them in the generation.
// Either all of them are stored or none is; a failed install is not retried.
func (m *Manager) Install(ctx context.Context) error {
	m.setState(StateInstalling)
	m.log.Info("installing")

	cache, err := m.storage.Open(m.name)
	if err != nil {
		return m.installFailed(errors.Wrap(err, "open cache"))
	}

	entries := make([]Entry, len(m.shell))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range m.shell {
		g.Go(func() error {
			resp, err := m.network.Fetch(gctx, Request{Method: http.MethodGet, URL: u, Header: http.Header{}})
			if err != nil {
				return errors.Wrapf(err, "app shell %s", u)
			}
			if resp.Status < 200 || resp.Status >= 300 {
				return errors.Errorf("app shell %s: status %d", u, resp.Status)
			}
			entries[i] = Entry{Key: u, Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return m.installFailed(err)
	}

	if err := cache.PutAll(entries); err != nil {
		return m.installFailed(errors.Wrap(err, "store app shell"))
	}

	m.setState(StateInstalledWaiting)
	m.log.WithField("entries", len(entries)).Info("app shell cached")
	return nil
}

func (m *Manager) installFailed(err error) error {
	m.setState(StateAbsent)
	m.log.WithError(err).Error("install failed")
	return err
}

// Activate deletes every generation other than this one and takes control of
// the open pages. A generation that cannot be deleted is left for the next
// activation; the error is returned after control has been claimed.
func (m *Manager) Activate(ctx context.Context) error {
	m.log.Info("activating")

	var firstErr error
	names, err := m.storage.Names()
	if err != nil {
		firstErr = errors.Wrap(err, "list caches")
	}
	for _, name := range names {
		if name == m.name {
			continue
		}
		m.log.WithField("stale", name).Info("deleting old cache")
		if _, err := m.storage.Delete(name); err != nil {
			m.log.WithError(err).WithField("stale", name).Error("delete old cache")
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "delete %s", name)
			}
		}
	}

	if err := m.clients.Claim(ctx, m.name); err != nil {
		m.log.WithError(err).Error("claim clients")
		if firstErr == nil {
			firstErr = errors.Wrap(err, "claim clients")
		}
	}

	m.setState(StateActive)
	m.log.Info("activated")
	return firstErr
}

// Intercept answers a page request cache-first. It never fails: an
// unreachable network yields OfflineResponse.
func (m *Manager) Intercept(ctx context.Context, req Request) Response {
	resp, _ := m.intercept(ctx, req)
	return resp
}

func (m *Manager) intercept(ctx context.Context, req Request) (Response, string) {
	entry := m.log.WithField("url", req.URL)

	// Only Install creates the generation. A request racing the activation
	// that deleted it is served from the network without write-through.
	var cache Cache
	if req.isGet() {
		c, found, err := m.storage.Lookup(m.name)
		if err != nil {
			entry.WithError(err).Error("lookup cache")
		} else if found {
			cache = c
			resp, ok, err := c.Match(req.URL)
			if err != nil {
				entry.WithError(err).Error("cache match")
			}
			if ok {
				entry.Debug("serving from cache")
				m.observe(outcomeHit, resp)
				return resp, outcomeHit
			}
		}
	}

	entry.Debug("fetching from network")
	resp, err := m.network.Fetch(ctx, req)
	if err != nil {
		m.offlineLog.Warnf("network unreachable for %s: %v", req.URL, err)
		resp = OfflineResponse()
		m.observe(outcomeOffline, resp)
		return resp, outcomeOffline
	}

	if req.isGet() && resp.Status == http.StatusOK && cache != nil {
		if err := cache.Put(req.URL, resp.Clone()); err != nil {
			entry.WithError(err).Error("cache put")
		}
		m.observe(outcomeMiss, resp)
		return resp, outcomeMiss
	}
	m.observe(outcomeNetwork, resp)
	return resp, outcomeNetwork
}

func (m *Manager) observe(outcome string, resp Response) {
	if m.stats != nil {
		m.stats.Observe(outcome, len(resp.Body))
	}
}

// Sync runs the background sync for tag. Only the configured tag does
// anything: one fetch of the sync endpoint, logged, never retried.
func (m *Manager) Sync(ctx context.Context, tag string) error {
	entry := m.log.WithField("tag", tag)
	entry.Info("background sync")
	if tag != m.syncCfg.Tag {
		return nil
	}

	h := http.Header{}
	h.Set("Accept", "application/json")
	resp, err := m.network.Fetch(ctx, Request{Method: http.MethodGet, URL: m.syncCfg.Endpoint, Header: h})
	if err != nil {
		entry.WithError(err).Error("sync failed")
		return errors.Wrap(err, "sync")
	}
	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		entry.WithError(err).Error("sync failed")
		return errors.Wrap(err, "sync: decode")
	}
	entry.WithField("status", resp.Status).Infof("synced data: %v", data)
	return nil
}

// Push shows a notification for an inbound push. A nil payload gets the
// default body.
func (m *Manager) Push(ctx context.Context, payload *string) (Notification, error) {
	body := m.pushCfg.DefaultBody
	if payload != nil {
		body = *payload
	}
	n := Notification{
		ID:      uuid.NewString(),
		Title:   m.pushCfg.Title,
		Body:    body,
		Icon:    m.pushCfg.Icon,
		Badge:   m.pushCfg.Badge,
		Vibrate: append([]int(nil), m.pushCfg.Vibrate...),
		Data: NotificationData{
			DateOfArrival: m.now(),
			PrimaryKey:    1,
		},
	}
	m.log.WithField("notification", n.ID).Info("push received")
	if err := m.notifier.Show(ctx, n); err != nil {
		m.log.WithError(err).Error("show notification")
		return n, errors.Wrap(err, "show notification")
	}
	return n, nil
}

// NotificationClick closes the notification and opens the root page.
func (m *Manager) NotificationClick(ctx context.Context, id string) (Client, error) {
	entry := m.log.WithField("notification", id)
	entry.Info("notification clicked")
	if err := m.notifier.Close(ctx, id); err != nil {
		entry.WithError(err).Error("close notification")
		return Client{}, err
	}
	c, err := m.clients.OpenWindow(ctx, m.pushCfg.OpenURL)
	if err != nil {
		entry.WithError(err).Error("open window")
		return Client{}, errors.Wrap(err, "open window")
	}
	return c, nil
}
