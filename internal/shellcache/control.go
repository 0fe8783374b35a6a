package shellcache

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// handleOpenClient registers a page. The optional "url" query parameter is the
// page's location, "/" by default.
func (s *Service) handleOpenClient(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		url = "/"
	}
	c := s.clients.Open(url)
	s.log.WithField("client", c.ID).Debug("page opened")
	writeJSON(w, http.StatusCreated, c)
}

func (s *Service) handleCloseClient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.reg.ClientGone(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSync fires a background sync. Failures are only logged, so the
// caller sees 202 either way.
func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	m, err := s.activeManager()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	_ = m.Sync(r.Context(), r.PathValue("tag"))
	w.WriteHeader(http.StatusAccepted)
}

// handlePush delivers a push message; an empty body means no payload.
func (s *Service) handlePush(w http.ResponseWriter, r *http.Request) {
	m, err := s.activeManager()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload *string
	if len(b) > 0 {
		p := strings.TrimRight(string(b), "\r\n")
		payload = &p
	}
	n, err := m.Push(r.Context(), payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Service) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	m, err := s.activeManager()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	c, err := m.NotificationClick(r.Context(), r.PathValue("id"))
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type statusBody struct {
	Registration  RegistrationStatus `json:"registration"`
	Generations   []string           `json:"generations"`
	Notifications []Notification     `json:"notifications"`
	Stats         statsSnapshot      `json:"stats"`
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	names, err := s.storage.Names()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{
		Registration:  s.reg.Status(),
		Generations:   names,
		Notifications: s.notifier.List(),
		Stats:         s.stats.Snapshot(),
	})
}
