package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"memberpay/internal/types"
)

// WebhookEventRepository writes the webhook_events audit log. Raw payloads
// are stored zstd-compressed.
type WebhookEventRepository struct {
	db          DBTX
	encoderPool sync.Pool
}

// NewWebhookEventRepository creates a new WebhookEventRepository backed by
// the given database connection (pool or transaction).
func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{
		db: db,
		encoderPool: sync.Pool{
			New: func() any {
				e, err := zstd.NewWriter(nil,
					zstd.WithEncoderConcurrency(1),
					zstd.WithEncoderLevel(zstd.SpeedDefault),
				)
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
				}
				return e
			},
		},
	}
}

// Record inserts ev. It returns false when (provider, provider_event_id) was
// already recorded, i.e. the delivery is a replay.
func (r *WebhookEventRepository) Record(ctx context.Context, ev *types.WebhookEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO webhook_events (
			id, provider, provider_event_id, event_type, resource_id, outcome, payload, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		ev.ID,
		ev.Provider,
		ev.ProviderEventID,
		ev.EventType,
		nilIfEmpty(ev.ResourceID),
		ev.Outcome,
		r.compress(ev.Payload),
		ev.ReceivedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record webhook event", err)
	}
	return tag.RowsAffected() > 0, nil
}

// compress encodes payload with a pooled encoder.
func (r *WebhookEventRepository) compress(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	enc := r.encoderPool.Get().(*zstd.Encoder)
	defer r.encoderPool.Put(enc)
	return enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
}
