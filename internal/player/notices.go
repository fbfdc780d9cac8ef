package player

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Notice ids. Showing a notice with an id already on screen replaces it.
const (
	NoticeConnect = "connect"
	NoticeChannel = "channel"
	NoticeFatal   = "fatal"
)

// Notice is a user-visible message.
type Notice struct {
	ID          string
	Message     string
	Dismissible bool
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Show(n Notice)
	Clear(id string)
}

// NoticeBoard is a Notifier that keeps the active notices and logs changes.
type NoticeBoard struct {
	mu      sync.Mutex
	notices map[string]Notice
	logger  *slog.Logger
}

// NewNoticeBoard creates an empty notice board.
func NewNoticeBoard(logger *slog.Logger) *NoticeBoard {
	return &NoticeBoard{notices: make(map[string]Notice), logger: logger}
}

// Show displays n, replacing any notice with the same id. A non-dismissible
// notice is never replaced by a dismissible one.
func (b *NoticeBoard) Show(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.notices[n.ID]; ok {
		if !cur.Dismissible && n.Dismissible {
			return
		}
		if cur == n {
			return
		}
	}
	b.notices[n.ID] = n

	level := slog.LevelWarn
	if !n.Dismissible {
		level = slog.LevelError
	}
	b.logger.Log(context.Background(), level, n.Message, slog.String("notice", n.ID))
}

// Clear removes a dismissible notice.
func (b *NoticeBoard) Clear(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.notices[id]; ok && cur.Dismissible {
		delete(b.notices, id)
	}
}

// Active returns the notices currently shown, ordered by id.
func (b *NoticeBoard) Active() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Notice, 0, len(b.notices))
	for _, n := range b.notices {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
