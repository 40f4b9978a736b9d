package mediagroup

import (
	"sync"
	"time"
)

// MaxItems is the largest album Telegram delivers.
const MaxItems = 10

// Item is one photo or image document of a Telegram album.
type Item struct {
	ChatID       int64
	UserID       int64
	Username     string
	MediaGroupID string
	Caption      string
	FileID       string
	MimeType     string
}

// Group is a settled album. Only one product photo is used per flow, so
// callers normally take Latest.
type Group struct {
	ChatID   int64
	UserID   int64
	Username string
	Caption  string
	Items    []Item
}

// Latest returns the last item received for the album.
func (g Group) Latest() Item {
	if len(g.Items) == 0 {
		return Item{}
	}
	return g.Items[len(g.Items)-1]
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Group)
}

// Aggregator collects album items until no new one arrived for Debounce.
type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Group)
	groups   map[albumKey]*pendingGroup
	stopped  bool
}

// Albums are tracked per sender so two users posting into one group chat
// never merge.
type albumKey struct {
	chatID  int64
	userID  int64
	albumID string
}

type pendingGroup struct {
	group Group
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}

	return &Aggregator{
		debounce: debounce,
		onFlush:  opts.OnFlush,
		groups:   make(map[albumKey]*pendingGroup),
	}
}

// Add queues item and reports whether it was accepted. Items without an
// album id or file id are ignored, as is everything after Stop. Past MaxItems
// the oldest item is dropped.
func (a *Aggregator) Add(item Item) bool {
	if item.MediaGroupID == "" || item.FileID == "" {
		return false
	}

	key := albumKey{chatID: item.ChatID, userID: item.UserID, albumID: item.MediaGroupID}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return false
	}

	pg, ok := a.groups[key]
	if !ok {
		pg = &pendingGroup{
			group: Group{
				ChatID:   item.ChatID,
				UserID:   item.UserID,
				Username: item.Username,
			},
		}
		a.groups[key] = pg
	}
	pg.group.Items = append(pg.group.Items, item)
	if n := len(pg.group.Items); n > MaxItems {
		pg.group.Items = append([]Item(nil), pg.group.Items[n-MaxItems:]...)
	}
	if item.Caption != "" {
		pg.group.Caption = item.Caption
	}

	if pg.timer != nil {
		pg.timer.Stop()
	}
	pg.timer = time.AfterFunc(a.debounce, func() {
		a.flush(key)
	})
	return true
}

func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Stop cancels every pending flush. Pending albums are dropped and later
// items rejected.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true

	for key, pg := range a.groups {
		if pg.timer != nil {
			pg.timer.Stop()
		}
		delete(a.groups, key)
	}
}

func (a *Aggregator) flush(key albumKey) {
	a.mu.Lock()
	pg, ok := a.groups[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	group := pg.group
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(group)
	}
}
