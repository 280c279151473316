package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// UpdateType is the kind of an Update.
type UpdateType string

const (
	UpdateProgress UpdateType = "progress"
	UpdateMessage  UpdateType = "message"
	UpdateDone     UpdateType = "done"
)

// Update is one step of a task's progress as seen by subscribers.
type Update struct {
	TaskID    string            `json:"task_id"`
	Type      UpdateType        `json:"type"`
	Status    models.TaskStatus `json:"status"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message"`
	Agent     string            `json:"agent,omitempty"`
	Content   string            `json:"content,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// DefaultRetention is how long the done update of a finished task is kept
// for late subscribers. After that the store answers for it.
const DefaultRetention = 5 * time.Minute

type subscriber struct {
	ch   chan Update
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broadcaster fans task updates out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the update.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	last    map[string]Update
	doneAt  map[string]time.Time
	swept   time.Time
	keep    time.Duration
	now     func() time.Time
	buffer  int
	dropped atomic.Uint64
	logger  *zap.SugaredLogger
}

// NewBroadcaster creates a Broadcaster whose subscribers buffer up to
// bufferSize updates.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]map[*subscriber]struct{}),
		last:   make(map[string]Update),
		doneAt: make(map[string]time.Time),
		keep:   DefaultRetention,
		now:    time.Now,
		buffer: bufferSize,
		logger: logging.Default,
	}
}

// WithRetention sets how long finished tasks' done updates are kept.
func (b *Broadcaster) WithRetention(d time.Duration) *Broadcaster {
	if d > 0 {
		b.mu.Lock()
		b.keep = d
		b.mu.Unlock()
	}
	return b
}

// WithLogger sets the broadcaster's logger.
func (b *Broadcaster) WithLogger(l *zap.SugaredLogger) *Broadcaster {
	b.logger = logging.OrDefault(l)
	return b
}

// Subscribe follows taskID. The latest update, if any, is delivered first.
// The channel closes after the task's done update or when cancel is called.
func (b *Broadcaster) Subscribe(taskID string) (<-chan Update, func()) {
	s := &subscriber{ch: make(chan Update, b.buffer)}

	b.mu.Lock()
	b.evictLocked()
	last, seen := b.last[taskID]
	if seen && last.Type == UpdateDone {
		b.mu.Unlock()
		s.ch <- last
		s.close()
		return s.ch, func() {}
	}
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[*subscriber]struct{})
	}
	b.subs[taskID][s] = struct{}{}
	if seen {
		s.ch <- last
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set := b.subs[taskID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, taskID)
			}
		}
		b.mu.Unlock()
		s.close()
	}
	return s.ch, cancel
}

// Publish delivers u to every subscriber of u.TaskID. A done update closes
// the subscriptions.
func (b *Broadcaster) Publish(u Update) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()
	if u.Type != UpdateMessage {
		b.last[u.TaskID] = u
	}
	if u.Type == UpdateDone {
		b.doneAt[u.TaskID] = b.now()
	}
	for s := range b.subs[u.TaskID] {
		select {
		case s.ch <- u:
		default:
			count := b.dropped.Add(1)
			if count%10 == 1 {
				b.logger.Warnw("subscriber too slow, dropped update",
					"task_id", u.TaskID, "type", u.Type, "dropped", count)
			}
		}
		if u.Type == UpdateDone {
			s.close()
		}
	}
	if u.Type == UpdateDone {
		delete(b.subs, u.TaskID)
	}
}

// Last returns the most recent progress or done update of taskID.
func (b *Broadcaster) Last(taskID string) (Update, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()
	u, ok := b.last[taskID]
	return u, ok
}

// Retained returns the number of tasks whose latest update is held.
func (b *Broadcaster) Retained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()
	return len(b.last)
}

// evictLocked drops done updates older than the retention. It scans at most
// once per half retention period. b.mu must be held.
func (b *Broadcaster) evictLocked() {
	now := b.now()
	if now.Sub(b.swept) < b.keep/2 {
		return
	}
	b.swept = now
	for id, at := range b.doneAt {
		if now.Sub(at) >= b.keep {
			delete(b.doneAt, id)
			delete(b.last, id)
		}
	}
}

// Subscribers returns the number of live subscriptions to taskID.
func (b *Broadcaster) Subscribers(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}

// DroppedCount returns how many updates were dropped for slow subscribers.
func (b *Broadcaster) DroppedCount() uint64 {
	return b.dropped.Load()
}
