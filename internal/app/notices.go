package app

import (
	"sync"
	"time"

	"webcal/internal/drag"
	appLog "webcal/internal/log"
)

const noticeCapacity = 32

// Notice is a transient user-visible message.
type Notice struct {
	drag.Notice
	At time.Time `json:"at"`
}

// noticeRing keeps the most recent notices, oldest first.
type noticeRing struct {
	mu   sync.Mutex
	buf  []Notice
	next int
	full bool
	now  func() time.Time
}

func newNoticeRing(capacity int, now func() time.Time) *noticeRing {
	return &noticeRing{buf: make([]Notice, capacity), now: now}
}

// Notify implements drag.Notifier.
func (r *noticeRing) Notify(n drag.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = Notice{Notice: n, At: r.now()}
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	appLog.Debug("notice", "severity", n.Severity, "message", n.Message)
}

func (r *noticeRing) List() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Notice(nil), r.buf[:r.next]...)
	}
	out := make([]Notice, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
