package shellcache

import (
	"net/http"
	"time"
)

// Request is what a page hands to the cache manager. URL is the request URI
// (path plus raw query) and doubles as the cache key.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (r Request) isGet() bool {
	return r.Method == "" || r.Method == http.MethodGet
}

type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

// Clone returns a deep copy, so the stored entry and the response handed back
// to the page never share header maps or body bytes.
func (r Response) Clone() Response {
	out := Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     cloneHeader(r.Header),
	}
	if r.Body != nil {
		out.Body = make([]byte, len(r.Body))
		copy(out.Body, r.Body)
	}
	return out
}

// Entry is a single stored (key, response) pair of a generation.
type Entry struct {
	Key      string
	Response Response
}

// storedEntry is the at-rest form of a Response.
type storedEntry struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	StoredAt   int64 // unix seconds

	// Compressed is set when Body holds zstd frames rather than raw bytes.
	Compressed bool
}

type GenerationState int

const (
	StateAbsent GenerationState = iota
	StateInstalling
	StateInstalledWaiting
	StateActive
	StateSuperseded
	StateDeleted
)

func (s GenerationState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateInstalling:
		return "installing"
	case StateInstalledWaiting:
		return "installed-waiting"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	case StateDeleted:
		return "deleted"
	}
	return "unknown"
}

func (s GenerationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Client is a page known to the manager. Controller names the generation that
// intercepts its requests; empty means the page talks to the network directly.
type Client struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Controller string `json:"controller,omitempty"`
}

type Notification struct {
	ID      string           `json:"id"`
	Title   string           `json:"title"`
	Body    string           `json:"body"`
	Icon    string           `json:"icon"`
	Badge   string           `json:"badge"`
	Vibrate []int            `json:"vibrate"`
	Data    NotificationData `json:"data"`
}

type NotificationData struct {
	DateOfArrival time.Time `json:"dateOfArrival"`
	PrimaryKey    int       `json:"primaryKey"`
}
