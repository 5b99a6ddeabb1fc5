package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"memberpay/internal/types"
)

func TestWebhookEventRepository_Record_CompressesPayload(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepository(db)
	payload := []byte(`{"type":"InvoicePaymentSettled","invoiceId":"inv_1","metadata":{"orderId":"ord_1"}}`)

	var stored []byte
	db.On("Exec", mock.Anything, sqlContains("ON CONFLICT (provider, provider_event_id) DO NOTHING"), mock.Anything).
		Run(func(args mock.Arguments) {
			stored = args.Get(2).([]any)[6].([]byte)
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	ev := &types.WebhookEvent{
		Provider:        types.ProviderBTCPay,
		ProviderEventID: "del_1",
		EventType:       "InvoicePaymentSettled",
		ResourceID:      "inv_1",
		Outcome:         "payment_settled",
		Payload:         payload,
		ReceivedAt:      time.Now(),
	}
	inserted, err := repo.Record(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, ev.ID)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(stored, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestWebhookEventRepository_Record_Replay(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepository(db)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	inserted, err := repo.Record(context.Background(), &types.WebhookEvent{
		ID: "fixed", Provider: types.ProviderWhop, ProviderEventID: "evt_1",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestWebhookEventRepository_Record_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWebhookEventRepository(db)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("down"))

	_, err := repo.Record(context.Background(), &types.WebhookEvent{Provider: types.ProviderWhop, ProviderEventID: "evt_1"})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
