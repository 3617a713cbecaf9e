// Package appstate holds the indicators the UI shell shows: connectivity,
// the pending-action count, the transient sync-complete notice and the
// global refresh token feature views watch to know when to refetch.
package appstate

import (
	"sync"
	"time"
)

// EventType names a shell state change.
type EventType string

const (
	EventPendingCount EventType = "pending_count"
	EventSyncComplete EventType = "sync_complete"
	EventNoticeClear  EventType = "notice_cleared"
	EventRefresh      EventType = "refresh"
	EventConnectivity EventType = "connectivity"
)

// Event is published to subscribers on every change.
type Event struct {
	Type    EventType `json:"type"`
	State   Snapshot  `json:"state"`
	Emitted time.Time `json:"emitted"`
}

// Snapshot is a point-in-time copy of the shell state.
type Snapshot struct {
	Online       bool   `json:"online"`
	Pending      int    `json:"pending"`
	Notice       string `json:"notice,omitempty"`
	RefreshToken uint64 `json:"refresh_token"`
	Language     string `json:"language"`
}

var syncNotices = map[string]string{
	"en": "Back online. All offline changes have been synced and the data refreshed.",
	"te": "మళ్లీ ఆన్‌లైన్‌లో ఉన్నారు. ఆఫ్‌లైన్ మార్పులన్నీ సమకాలీకరించబడ్డాయి మరియు డేటా నవీకరించబడింది.",
}

// subscriberBuffer is the per-subscriber channel size. Slow subscribers
// miss events rather than block the shell.
const subscriberBuffer = 32

// Shell is the application's shell state. The zero value is not usable;
// construct with New.
type Shell struct {
	noticeTTL time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       Snapshot
	noticeTimer *time.Timer
	noticeGen   uint64
	subs        map[int]chan Event
	nextSub     int
}

// New creates a Shell that starts offline with no pending actions.
// Notices clear after noticeTTL.
func New(lang string, noticeTTL time.Duration) *Shell {
	if _, ok := syncNotices[lang]; !ok {
		lang = "en"
	}
	return &Shell{
		noticeTTL: noticeTTL,
		now:       time.Now,
		state:     Snapshot{Language: lang},
		subs:      make(map[int]chan Event),
	}
}

// Snapshot returns the current state.
func (s *Shell) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Online reports the last known connectivity.
func (s *Shell) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Online
}

// SetPending records the pending-action count. It matches queue.CountHook.
func (s *Shell) SetPending(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Pending == n {
		return
	}
	s.state.Pending = n
	s.publishLocked(EventPendingCount)
}

// SetOnline records connectivity.
func (s *Shell) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Online == online {
		return
	}
	s.state.Online = online
	s.publishLocked(EventConnectivity)
}

// SetLanguage switches the notice language. Unknown languages are ignored.
func (s *Shell) SetLanguage(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := syncNotices[lang]; ok {
		s.state.Language = lang
	}
}

// NotifySynced shows the sync-complete notice and bumps the refresh token.
// The notice clears itself after the configured delay; a second sync
// restarts the delay.
func (s *Shell) NotifySynced() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Notice = syncNotices[s.state.Language]
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
	}
	s.noticeGen++
	gen := s.noticeGen
	s.noticeTimer = time.AfterFunc(s.noticeTTL, func() { s.clearNotice(gen) })
	s.publishLocked(EventSyncComplete)

	s.state.RefreshToken++
	s.publishLocked(EventRefresh)
}

// BumpRefresh asks feature views to refetch without showing a notice.
func (s *Shell) BumpRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RefreshToken++
	s.publishLocked(EventRefresh)
}

// ClearNotice hides the notice immediately.
func (s *Shell) ClearNotice() {
	s.clearNotice(0)
}

// clearNotice clears the notice set by generation gen. A stale timer from
// an earlier notice is a no-op; gen 0 clears unconditionally.
func (s *Shell) clearNotice(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != 0 && gen != s.noticeGen {
		return
	}
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
		s.noticeTimer = nil
	}
	if s.state.Notice == "" {
		return
	}
	s.state.Notice = ""
	s.publishLocked(EventNoticeClear)
}

// Subscribe returns a channel of state changes and a function that
// unsubscribes and closes it.
func (s *Shell) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops the notice timer and closes every subscriber channel.
func (s *Shell) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
		s.noticeTimer = nil
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Shell) publishLocked(t EventType) {
	ev := Event{Type: t, State: s.state, Emitted: s.now()}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
