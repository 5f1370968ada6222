package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/chtzvt/docslurp/internal/blob"
)

// BlobStore keeps the checkpoint as a small object at {namespace}/checkpoint
// in the same store the export files go to.
type BlobStore struct {
	store blob.Store
	key   string
}

func NewBlobStore(store blob.Store, namespace string) *BlobStore {
	return &BlobStore{store: store, key: blob.Join(namespace, "checkpoint")}
}

func (b *BlobStore) Key() string { return b.key }

func (b *BlobStore) Load(ctx context.Context) (Checkpoint, error) {
	body, err := b.store.Get(ctx, b.key)
	if errors.Is(err, blob.ErrNotFound) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: load %s: %w", ErrUnavailable, b.key, err)
	}
	cp, err := Unmarshal(body)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: load %s: %w", ErrUnavailable, b.key, err)
	}
	return cp, nil
}

func (b *BlobStore) Save(ctx context.Context, cp Checkpoint) error {
	body, err := Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := b.store.PutBytes(ctx, b.key, body); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrUnavailable, b.key, err)
	}
	return nil
}
