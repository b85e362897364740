package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/prattlelabs/prattle-core/internal/bus"
	"github.com/prattlelabs/prattle-core/internal/protocol"
)

const transcriptStream = "TRANSCRIPTS"

// Bus broadcasts fragments on the message bus. Partial snapshots always go
// out as plain NATS messages. When durable mode is on, committed fragments
// publish through JetStream so consumers that attach late can replay the
// transcript.
type Bus struct {
	client  *bus.Client
	durable bool
}

func NewBus(client *bus.Client, durable bool) (*Bus, error) {
	b := &Bus{client: client, durable: durable}
	if durable {
		if err := b.ensureStream(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ensureStream creates the transcript stream when it does not exist. The
// stream binds only the committed-fragment subjects; partial snapshots must
// never land in durable storage.
func (b *Bus) ensureStream() error {
	js := b.client.JetStream()
	if _, err := js.StreamInfo(transcriptStream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("look up stream %s: %w", transcriptStream, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name: transcriptStream,
		Subjects: []string{
			protocol.SubjectFragmentConfirmed,
			protocol.SubjectFragmentFinal,
		},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", transcriptStream, err)
	}

	b.client.Logger().Info("created transcript stream",
		slog.String("stream", transcriptStream))
	return nil
}

func (b *Bus) Emit(ctx context.Context, frag protocol.Fragment) error {
	payload, err := json.Marshal(frag)
	if err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}

	subject := protocol.FragmentSubject(frag.Kind)
	if b.durable && frag.Committed() {
		if _, err := b.client.JetStream().Publish(subject, payload, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish fragment to %s: %w", subject, err)
		}
		return nil
	}

	if err := b.client.Conn().Publish(subject, payload); err != nil {
		return fmt.Errorf("publish fragment to %s: %w", subject, err)
	}
	return nil
}

func (b *Bus) Close(context.Context) error {
	return nil
}
