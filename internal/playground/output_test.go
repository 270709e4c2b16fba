package playground

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputLogAppendAddsNewline(t *testing.T) {
	l := NewOutputLog(StaleInterleave)
	l.Reset(ExecutingMarker, 1)
	l.Append("a", 1)
	l.Append("b", 1)

	assert.Equal(t, "Executing...\na\nb\n", l.String())
}

func TestOutputLogDisplayPlaceholder(t *testing.T) {
	l := NewOutputLog("")
	assert.Equal(t, Placeholder, l.Display())

	l.Reset("x", 0)
	assert.Equal(t, "x", l.Display())
}

func TestOutputLogStalePolicies(t *testing.T) {
	interleave := NewOutputLog(StaleInterleave)
	interleave.Reset(ExecutingMarker, 2)
	assert.True(t, interleave.Append("from run 1", 1))
	assert.Equal(t, "Executing...\nfrom run 1\n", interleave.String())

	discard := NewOutputLog(StaleDiscard)
	discard.Reset(ExecutingMarker, 2)
	assert.False(t, discard.Append("from run 1", 1))
	assert.True(t, discard.Append("from run 2", 2))
	assert.Equal(t, "Executing...\nfrom run 2\n", discard.String())
}

func TestOutputLogSubscribe(t *testing.T) {
	l := NewOutputLog(StaleInterleave)
	l.Reset("before\n", 1)

	events, cancel := l.Subscribe()
	defer cancel()

	first := <-events
	assert.Equal(t, Event{Type: EventReset, Text: "before\n", Generation: 1}, first)

	l.Append("x", 1)
	assert.Equal(t, Event{Type: EventAppend, Text: "x\n", Generation: 1}, <-events)

	l.Reset(ExecutingMarker, 2)
	assert.Equal(t, Event{Type: EventReset, Text: ExecutingMarker, Generation: 2}, <-events)
}

func TestOutputLogCancelClosesChannel(t *testing.T) {
	l := NewOutputLog(StaleInterleave)
	events, cancel := l.Subscribe()
	<-events

	cancel()
	cancel()
	_, ok := <-events
	assert.False(t, ok)

	assert.NotPanics(t, func() { l.Append("after cancel", 0) })
}

func TestOutputLogLaggingSubscriberResyncs(t *testing.T) {
	l := NewOutputLog(StaleInterleave)
	events, cancel := l.Subscribe()
	defer cancel()

	// Overflow the buffer without reading.
	for i := 0; i < subscriberBuffer+10; i++ {
		l.Append("x", 0)
	}
	for len(events) > 0 {
		<-events
	}

	l.Append("last", 0)
	ev := <-events
	require.Equal(t, EventReset, ev.Type)
	assert.Equal(t, l.String(), ev.Text)
}
