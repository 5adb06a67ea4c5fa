package stt

import (
	"context"
	"time"
)

type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
)

func (k EventKind) String() string {
	if k == EventFinal {
		return "final"
	}
	return "partial"
}

// Event is one transcription update. A partial supersedes the previous
// partial; a final is permanent and never empty.
type Event struct {
	Kind     EventKind
	Text     string
	ChunkSeq uint64
	Time     time.Time
}

// Sink renders events for a human.
type Sink interface {
	ClearCurrentLine() error
	WritePartial(text string) error
	WriteFinal(text string) error
}

// Listener receives every event after it has been rendered. HandleEvent runs
// on the loop goroutine and should not block for long.
type Listener interface {
	HandleEvent(ctx context.Context, evt Event)
}

type ListenerFunc func(ctx context.Context, evt Event)

func (f ListenerFunc) HandleEvent(ctx context.Context, evt Event) { f(ctx, evt) }
