package shellcache

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrUnknownNotification = errors.New("unknown notification")

type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) error
}

// notificationCenter keeps the notifications currently on screen.
type notificationCenter struct {
	log *log.Entry

	mu    sync.Mutex
	shown map[string]Notification
}

func newNotificationCenter(entry *log.Entry) *notificationCenter {
	return &notificationCenter{log: entry, shown: map[string]Notification{}}
}

func (c *notificationCenter) Show(_ context.Context, n Notification) error {
	c.mu.Lock()
	c.shown[n.ID] = n
	c.mu.Unlock()
	c.log.WithFields(log.Fields{"id": n.ID, "title": n.Title}).Info("notification shown: " + n.Body)
	return nil
}

func (c *notificationCenter) Close(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.shown[id]; !ok {
		return errors.Wrap(ErrUnknownNotification, id)
	}
	delete(c.shown, id)
	return nil
}

func (c *notificationCenter) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.shown))
	for _, n := range c.shown {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Data.DateOfArrival.Before(out[j].Data.DateOfArrival)
	})
	return out
}
