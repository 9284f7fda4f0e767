package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/palengke/marketplace/internal/store"
)

// PublishedStore decorates a document store so that every successful
// mutation emits a ChangeEvent. Publication is best effort: a failed
// publish is logged, not surfaced, since the write itself already landed
// and subscribers re-read on the next event.
type PublishedStore struct {
	store.Store
	publisher message.Publisher
}

var _ store.Store = (*PublishedStore)(nil)

func NewPublishedStore(s store.Store, publisher message.Publisher) *PublishedStore {
	return &PublishedStore{Store: s, publisher: publisher}
}

func (p *PublishedStore) Put(ctx context.Context, collection, key string, doc json.RawMessage) error {
	if err := p.Store.Put(ctx, collection, key, doc); err != nil {
		return err
	}
	p.publish(collection, key, false)
	return nil
}

func (p *PublishedStore) AtomicUpdate(ctx context.Context, collection, key string, fn store.UpdateFunc) error {
	if err := p.Store.AtomicUpdate(ctx, collection, key, fn); err != nil {
		return err
	}
	p.publish(collection, key, false)
	return nil
}

func (p *PublishedStore) BatchWrite(ctx context.Context, writes []store.Write) error {
	if err := p.Store.BatchWrite(ctx, writes); err != nil {
		return err
	}
	for _, w := range writes {
		p.publish(w.Collection, w.Key, w.Doc == nil)
	}
	return nil
}

func (p *PublishedStore) Delete(ctx context.Context, collection, key string) error {
	if err := p.Store.Delete(ctx, collection, key); err != nil {
		return err
	}
	p.publish(collection, key, true)
	return nil
}

func (p *PublishedStore) publish(collection, key string, deleted bool) {
	payload, err := json.Marshal(ChangeEvent{Collection: collection, Key: key, Deleted: deleted})
	if err != nil {
		slog.Error("Failed to marshal change event", "collection", collection, "key", key, "err", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(TopicFor(collection), msg); err != nil {
		slog.Warn("Failed to publish change event", "collection", collection, "key", key, "err", err)
	}
}
