package sink

import (
	"context"

	"github.com/prattlelabs/prattle-core/internal/protocol"
	"github.com/prattlelabs/prattle-core/internal/transcriptstore"
)

// Store persists committed fragments through the transcript store. Partial
// snapshots are volatile and never written.
type Store struct {
	store *transcriptstore.Store
}

func NewStore(store *transcriptstore.Store) *Store {
	return &Store{store: store}
}

func (s *Store) Emit(ctx context.Context, frag protocol.Fragment) error {
	if !frag.Committed() {
		return nil
	}
	return s.store.AppendFragment(ctx, frag)
}

// Close is a no-op: the store itself is owned and closed by the runtime.
func (s *Store) Close(context.Context) error {
	return nil
}
