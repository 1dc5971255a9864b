package msgbuf

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valyala/bytebufferpool"

	"github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/probe"
	"github.com/Iron-Ham/webpair/internal/store"
)

// PersistKey names the store slot holding the undelivered tail.
const PersistKey = "webpair.pending_messages"

// persist overwrites the slot with the sanitized tail. An empty tail is
// written as an empty array so a stale snapshot never survives a reload.
func persist(ctx context.Context, st store.Store, tail []probe.RawMessageEvent) error {
	records := make([]probe.RawMessageEvent, 0, len(tail))
	for _, ev := range tail {
		records = append(records, ev.Sanitized())
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := json.NewEncoder(buf).Encode(records); err != nil {
		return fmt.Errorf("failed to encode pending messages: %w", err)
	}
	data := append([]byte(nil), buf.B...)

	return st.Save(ctx, PersistKey, data)
}

// PeekPersisted returns the persisted tail without consuming it. A missing
// slot yields an empty batch.
func PeekPersisted(ctx context.Context, st store.Store) (MessageBatch, error) {
	data, err := st.Load(ctx, PersistKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load pending messages: %w", err)
	}

	var batch MessageBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode pending messages: %w", err)
	}
	return batch, nil
}

// LoadPersisted returns the persisted tail and deletes the slot, so a
// snapshot is consumed at most once.
func LoadPersisted(ctx context.Context, st store.Store) (MessageBatch, error) {
	batch, err := PeekPersisted(ctx, st)
	if err != nil {
		return nil, err
	}
	if err := st.Delete(ctx, PersistKey); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to clear pending messages: %w", err)
	}
	return batch, nil
}
