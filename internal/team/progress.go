package team

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// Progress percentages reported by Run.
const (
	ProgressAssembled     = 35
	ProgressFirstResponse = 50
	ProgressConversation  = 85
)

// ProgressSink receives coarse run progress.
type ProgressSink interface {
	Progress(status string, percent int)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(status string, percent int)

func (f ProgressFunc) Progress(status string, percent int) { f(status, percent) }

// EventType is the kind of an Event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventMessage  EventType = "message"
	EventDone     EventType = "done"
)

// Event is what an Emitter delivers to its subscriber.
type Event struct {
	Type      EventType
	Status    string
	Percent   int
	Message   models.Message
	Result    *Result
	Err       error
	Timestamp time.Time
}

// Emitter turns a run into a stream of events. It serves as both the run's
// ProgressSink and its MessageHandler, so a viewer can follow a run started in
// another goroutine.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	closeOnce    sync.Once
	logger       *zap.SugaredLogger
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{
		events: make(chan Event, bufferSize),
		logger: logging.Default,
	}
}

// Emit sends ev, waiting briefly for a full buffer to drain before dropping it.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case e.events <- ev:
		return
	default:
	}

	select {
	case e.events <- ev:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warnw("event buffer full, dropped event", "type", ev.Type, "dropped", count)
		}
	}
}

// Progress implements ProgressSink.
func (e *Emitter) Progress(status string, percent int) {
	e.Emit(Event{Type: EventProgress, Status: status, Percent: percent})
}

// Message is a MessageHandler forwarding m. It never fails.
func (e *Emitter) Message(m models.Message) error {
	e.Emit(Event{Type: EventMessage, Message: m})
	return nil
}

// Done emits the outcome of the run and closes the stream.
func (e *Emitter) Done(res *Result, err error) {
	e.Emit(Event{Type: EventDone, Result: res, Err: err})
	e.Close()
}

// DroppedCount returns how many events were dropped.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the event stream. It is closed by Done or Close.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the stream. It is safe to call more than once.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.events) })
}
