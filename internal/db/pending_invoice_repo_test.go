package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"memberpay/internal/types"
)

func TestPendingInvoiceRepository_Create(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPendingInvoiceRepository(db)
	db.On("Exec", mock.Anything, sqlContains("ON CONFLICT (provider, invoice_id) DO NOTHING"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), &types.PendingInvoice{
		Provider:  types.ProviderBTCPay,
		InvoiceID: "inv_1",
		OrderID:   "ord_1",
		UserID:    4,
		Tier:      "pro",
		Amount:    2500,
		Currency:  "USD",
		Status:    types.InvoiceStatusNew,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPendingInvoiceRepository_MarkStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPendingInvoiceRepository(db)
	db.On("Exec", mock.Anything, sqlContains("status <> 'Settled'"), []any{
		types.InvoiceStatusSettled, types.ProviderWhop, "mem_1", "ord_1",
	}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	rows, err := repo.MarkStatus(context.Background(), types.ProviderWhop, "mem_1", "ord_1", types.InvoiceStatusSettled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
}

func TestPendingInvoiceRepository_MarkStatus_ClosedRowsStayClosed(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPendingInvoiceRepository(db)
	db.On("Exec", mock.Anything, sqlContains("status NOT IN ('Expired', 'Invalid') OR $1 = 'Settled'"), []any{
		types.InvoiceStatusProcessing, types.ProviderBTCPay, "inv_1", "",
	}).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	rows, err := repo.MarkStatus(context.Background(), types.ProviderBTCPay, "inv_1", "", types.InvoiceStatusProcessing)
	require.NoError(t, err)
	assert.Zero(t, rows)
	db.AssertExpectations(t)
}

func TestPendingInvoiceRepository_MarkStatus_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPendingInvoiceRepository(db)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("down"))

	_, err := repo.MarkStatus(context.Background(), types.ProviderWhop, "mem_1", "", types.InvoiceStatusExpired)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestPendingInvoiceRepository_ListStale(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPendingInvoiceRepository(db)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := newMockRows(2, func(i int, dest ...any) error {
		*dest[0].(*types.ProviderTag) = types.ProviderBTCPay
		*dest[1].(*string) = []string{"inv_1", "inv_2"}[i]
		if i == 0 {
			order := "ord_1"
			*dest[2].(**string) = &order
		}
		*dest[3].(*int64) = int64(10 + i)
		*dest[7].(*types.InvoiceStatus) = types.InvoiceStatusNew
		*dest[8].(*time.Time) = now.Add(-time.Hour)
		return nil
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{
		now.Add(-15 * time.Minute), now.Add(-72 * time.Hour), 50,
	}).Return(rows, nil)

	got, err := repo.ListStale(context.Background(), now, 15*time.Minute, 72*time.Hour, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "inv_1", got[0].InvoiceID)
	assert.Equal(t, "ord_1", got[0].OrderID)
	assert.Equal(t, "inv_2", got[1].InvoiceID)
	assert.Empty(t, got[1].OrderID)
	assert.Equal(t, int64(11), got[1].UserID)
	assert.True(t, rows.closed)
}

func TestPendingInvoiceRepository_ListStale_RowsError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPendingInvoiceRepository(db)
	rows := newMockRows(0, nil)
	rows.errVal = errors.New("stream broke")
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

	_, err := repo.ListStale(context.Background(), time.Now(), time.Minute, time.Hour, 10)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestPendingInvoiceRepository_ExpireOlderThan(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPendingInvoiceRepository(db)
	cutoff := time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC)
	db.On("Exec", mock.Anything, sqlContains("SET status = 'Expired'"), []any{cutoff}).
		Return(pgconn.NewCommandTag("UPDATE 3"), nil)

	n, err := repo.ExpireOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
