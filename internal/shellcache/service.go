package shellcache

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ClientHeader identifies the page a request comes from. Requests without it
// are treated as coming from a freshly opened page.
const ClientHeader = "X-Shellcache-Client"

const controlPrefix = "/__shellcache/"

// Service is the HTTP boundary between pages and the cache manager.
type Service struct {
	cfg Config

	storage  CacheStorage
	network  Network
	clients  *clientRegistry
	notifier *notificationCenter
	reg      *Registration

	log   *log.Entry
	stats *statsCollector

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(cfg Config, logger *log.Logger) (*Service, error) {
	var storage CacheStorage
	if cfg.Cache.Dir != "" {
		st, err := OpenLevelStorage(cfg.Cache.Dir)
		if err != nil {
			return nil, err
		}
		storage = st
	} else {
		storage = NewMemStorage()
	}
	return newService(cfg, logger, storage, NewOriginNetwork(cfg.Server.Origin, cfg.Network.timeoutDur)), nil
}

func newService(cfg Config, logger *log.Logger, storage CacheStorage, network Network) *Service {
	var entry *log.Entry
	if logger != nil {
		entry = log.NewEntry(logger)
	} else {
		entry = discardLogger()
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	clients := newClientRegistry()
	s := &Service{
		cfg:      cfg,
		storage:  storage,
		network:  network,
		clients:  clients,
		notifier: newNotificationCenter(entry.WithField("component", "notifications")),
		reg:      NewRegistration(clients, entry.WithField("component", "registration")),
		log:      entry.WithField("component", "service"),
		stats:    newStatsCollector(),
		stopCh:   make(chan struct{}),
	}

	if every := cfg.Logging.logStatsEveryDur; every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return s
}

// NewManager builds a manager for the configured generation wired to the
// service's storage, network, pages and notifications.
func (s *Service) NewManager(cfg Config) *Manager {
	return NewManager(cfg, Deps{
		Storage:  s.storage,
		Network:  s.network,
		Clients:  s.clients,
		Notifier: s.notifier,
		Log:      s.log.WithField("component", "manager"),
		stats:    s.stats,
	})
}

// Start registers the configured generation. A failed install is logged and
// returned; the service keeps forwarding requests to the network.
func (s *Service) Start(ctx context.Context) error {
	err := s.reg.Register(ctx, s.NewManager(s.cfg))
	if err != nil {
		s.log.WithError(err).Error("registration failed")
		return err
	}
	s.log.WithField("cache", s.cfg.Cache.Name()).Info("registration complete")
	return nil
}

func (s *Service) Registration() *Registration { return s.reg }

func (s *Service) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.storage.Close()
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+controlPrefix+"clients", s.handleOpenClient)
	mux.HandleFunc("DELETE "+controlPrefix+"clients/{id}", s.handleCloseClient)
	mux.HandleFunc("POST "+controlPrefix+"sync/{tag}", s.handleSync)
	mux.HandleFunc("POST "+controlPrefix+"push", s.handlePush)
	mux.HandleFunc("POST "+controlPrefix+"notifications/{id}/click", s.handleNotificationClick)
	mux.HandleFunc("GET "+controlPrefix+"status", s.handleStatus)
	mux.HandleFunc("/", s.handle)
	return mux
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, controlPrefix) {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.log.WithField("url", r.URL.RequestURI()).Warnf("request body over %d bytes", tooLarge.Limit)
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req := Request{
		Method: r.Method,
		URL:    r.URL.RequestURI(),
		Header: cloneHeader(r.Header),
		Body:   body,
	}
	req.Header.Del(ClientHeader)

	active := s.reg.Active()
	controlled := active != nil
	if id := r.Header.Get(ClientHeader); id != "" {
		if c, ok := s.clients.Get(id); ok && c.Controller == "" {
			controlled = false
		}
	}
	if !controlled {
		s.passThrough(r.Context(), w, req)
		return
	}

	resp, outcome := active.intercept(r.Context(), req)
	writeResponse(w, resp, outcome)
}

// passThrough serves pages no generation controls: straight to the network,
// no cache and no offline substitute.
func (s *Service) passThrough(ctx context.Context, w http.ResponseWriter, req Request) {
	resp, err := s.network.Fetch(ctx, req)
	if err != nil {
		s.log.WithError(err).WithField("url", req.URL).Warn("uncontrolled fetch failed")
		setShellcacheHeaders(w.Header(), outcomeBadGateway)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	s.stats.Observe(outcomeBypass, len(resp.Body))
	writeResponse(w, resp, outcomeBypass)
}

func writeResponse(w http.ResponseWriter, resp Response, outcome string) {
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "x-shellcache") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setShellcacheHeaders(w.Header(), outcome)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func setShellcacheHeaders(h http.Header, outcome string) {
	if outcome != "" {
		h.Set("X-Shellcache", outcome)
	}
	// Custom headers are not readable by browser JS in a CORS context unless
	// explicitly exposed.
	ensureExposedHeader(h, "X-Shellcache")
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func (s *Service) activeManager() (*Manager, error) {
	m := s.reg.Active()
	if m == nil {
		return nil, ErrNoActiveGeneration
	}
	return m, nil
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			s.log.WithFields(log.Fields{
				"hits":    ss.Outcomes[outcomeHit],
				"misses":  ss.Outcomes[outcomeMiss],
				"offline": ss.Outcomes[outcomeOffline],
			}).Infof(
				"Cached: Entries: %d, Hit ratio: %.2f, Resp Min/avg/max %s/%s/%s",
				s.cachedEntriesCount(),
				ss.HitRatio(),
				formatBytes(ss.MinRespBytes),
				formatBytes(ss.AvgRespBytes),
				formatBytes(ss.MaxRespBytes),
			)
		}
	}
}

func (s *Service) cachedEntriesCount() int {
	m := s.reg.Active()
	if m == nil {
		return 0
	}
	c, found, err := s.storage.Lookup(m.CacheName())
	if err != nil || !found {
		return 0
	}
	keys, err := c.Keys()
	if err != nil {
		return 0
	}
	return len(keys)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrUnknownClient) || errors.Is(err, ErrUnknownNotification)
}
