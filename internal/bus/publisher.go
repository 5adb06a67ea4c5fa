package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/loqa-mic/internal/protocol"
	"github.com/loqalabs/loqa-mic/internal/stt"
)

// TranscriptPublisher forwards transcription events to the bus. Empty partials
// are not published.
type TranscriptPublisher struct {
	client    *Client
	sessionID string
}

func NewTranscriptPublisher(client *Client, sessionID string) *TranscriptPublisher {
	return &TranscriptPublisher{client: client, sessionID: sessionID}
}

func (p *TranscriptPublisher) HandleEvent(_ context.Context, evt stt.Event) {
	if evt.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if evt.Kind == stt.EventFinal {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SessionID: p.sessionID,
		Text:      evt.Text,
		Partial:   evt.Kind == stt.EventPartial,
		ChunkSeq:  evt.ChunkSeq,
		Timestamp: evt.Time.UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.client.Logger().Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := p.client.Conn().Publish(subject, data); err != nil {
		p.client.Logger().Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
