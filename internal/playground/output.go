package playground

import (
	"strings"
	"sync"
)

const (
	// ExecutingMarker is the log content at the start of every run.
	ExecutingMarker = "Executing...\n"

	// FallbackMessage replaces the log when the sandbox fails to boot.
	FallbackMessage = "Welcome to WebContainer Playground!"

	// Placeholder is displayed while the log is empty.
	Placeholder = "Output will appear here..."

	// ErrorPrefix starts the log line written when a run cannot start.
	ErrorPrefix = "Error: "
)

// StalePolicy decides what happens to chunks from a run that has been
// superseded by a newer one.
type StalePolicy string

const (
	// StaleInterleave appends every chunk regardless of which run
	// produced it; concurrent runs interleave in the log.
	StaleInterleave StalePolicy = "interleave"

	// StaleDiscard drops chunks from any run but the latest.
	StaleDiscard StalePolicy = "discard"
)

// EventType identifies a change to the log.
type EventType string

const (
	EventReset  EventType = "reset"
	EventAppend EventType = "append"
)

// Event describes one change. For EventReset Text is the whole new
// content; for EventAppend it is the appended text including its newline.
type Event struct {
	Type       EventType `json:"type"`
	Text       string    `json:"content"`
	Generation uint64    `json:"generation"`
}

const subscriberBuffer = 256

type subscriber struct {
	ch     chan Event
	lagged bool
}

// OutputLog is the append-only text shown in the output panel. It is
// safe for concurrent use.
type OutputLog struct {
	mu         sync.Mutex
	buf        strings.Builder
	generation uint64
	policy     StalePolicy
	subs       map[*subscriber]struct{}
}

// NewOutputLog creates an empty log.
func NewOutputLog(policy StalePolicy) *OutputLog {
	if policy == "" {
		policy = StaleInterleave
	}
	return &OutputLog{
		policy: policy,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Reset replaces the whole content and stamps the log with generation.
func (l *OutputLog) Reset(text string, generation uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Reset()
	l.buf.WriteString(text)
	l.generation = generation
	l.publish(Event{Type: EventReset, Text: text, Generation: generation})
}

// Append adds chunk followed by a newline. It reports false when the
// chunk was dropped because generation is stale under StaleDiscard.
func (l *OutputLog) Append(chunk string, generation uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.policy == StaleDiscard && generation != l.generation {
		return false
	}
	text := chunk + "\n"
	l.buf.WriteString(text)
	l.publish(Event{Type: EventAppend, Text: text, Generation: generation})
	return true
}

// String returns the current content.
func (l *OutputLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// Display returns the content, or Placeholder when it is empty.
func (l *OutputLog) Display() string {
	if s := l.String(); s != "" {
		return s
	}
	return Placeholder
}

// Generation returns the generation of the last Reset.
func (l *OutputLog) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// Subscribe returns a channel that first receives a reset with the
// current content and then every subsequent change. Call cancel to
// unsubscribe; the channel is closed afterwards.
func (l *OutputLog) Subscribe() (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	sub.ch <- Event{Type: EventReset, Text: l.buf.String(), Generation: l.generation}
	l.subs[sub] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, sub)
			close(sub.ch)
			l.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// publish fans ev out without blocking. A subscriber whose buffer is
// full misses events and is resynchronised with a full snapshot as soon
// as it has room again. Callers hold l.mu.
func (l *OutputLog) publish(ev Event) {
	for sub := range l.subs {
		out := ev
		if sub.lagged {
			out = Event{Type: EventReset, Text: l.buf.String(), Generation: l.generation}
		}
		select {
		case sub.ch <- out:
			sub.lagged = false
		default:
			sub.lagged = true
		}
	}
}
