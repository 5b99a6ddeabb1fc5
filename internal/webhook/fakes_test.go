package webhook

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"memberpay/internal/external"
	"memberpay/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureHandler records log records so tests can assert on warnings.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count(level slog.Level, msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level && r.Message == msg {
			n++
		}
	}
	return n
}

// memStore is an in-memory SubscriptionStore with the same transition rules
// as the SQL repository.
type memStore struct {
	mu        sync.Mutex
	rows      map[types.SubscriptionKey]*types.Subscription
	calls     int
	createErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[types.SubscriptionKey]*types.Subscription)}
}

func (m *memStore) CreateIfAbsent(_ context.Context, sub *types.Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.createErr != nil {
		return false, m.createErr
	}
	if _, ok := m.rows[sub.Key()]; ok {
		return false, nil
	}
	cp := *sub
	m.rows[sub.Key()] = &cp
	return true, nil
}

func (m *memStore) UpdateStatus(_ context.Context, key types.SubscriptionKey, to types.SubscriptionStatus, from ...types.SubscriptionStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.updateErr != nil {
		return 0, m.updateErr
	}
	row, ok := m.rows[key]
	if !ok || row.Status.IsTerminal() || !slices.Contains(from, row.Status) {
		return 0, nil
	}
	row.Status = to
	return 1, nil
}

func (m *memStore) MergeMetadata(_ context.Context, key types.SubscriptionKey, meta types.Metadata) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	row, ok := m.rows[key]
	if !ok {
		return 0, nil
	}
	row.Metadata = row.Metadata.Merge(meta)
	return 1, nil
}

func (m *memStore) get(key types.SubscriptionKey) *types.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[key]
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memUsers is a UserLookup over a fixed user list, ordered by id.
type memUsers struct {
	users []types.User
	err   error
}

func (u *memUsers) UserExists(_ context.Context, id int64) (bool, error) {
	if u.err != nil {
		return false, u.err
	}
	for _, usr := range u.users {
		if usr.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (u *memUsers) FindIDByEmail(_ context.Context, email string) (int64, bool, error) {
	if u.err != nil {
		return 0, false, u.err
	}
	for _, usr := range u.users {
		if usr.Email == email {
			return usr.ID, true, nil
		}
	}
	return 0, false, nil
}

func (u *memUsers) FindIDByUsername(_ context.Context, name string) (int64, bool, error) {
	if u.err != nil {
		return 0, false, u.err
	}
	for _, usr := range u.users {
		if usr.Username == name {
			return usr.ID, true, nil
		}
	}
	for _, usr := range u.users {
		if usr.Name == name {
			return usr.ID, true, nil
		}
	}
	return 0, false, nil
}

type pendingCall struct {
	Provider  types.ProviderTag
	InvoiceID string
	OrderID   string
	Status    types.InvoiceStatus
}

type memPending struct {
	calls []pendingCall
}

func (p *memPending) MarkStatus(_ context.Context, provider types.ProviderTag, invoiceID, orderID string, status types.InvoiceStatus) (int64, error) {
	p.calls = append(p.calls, pendingCall{provider, invoiceID, orderID, status})
	return 1, nil
}

type stubInvoiceClient struct {
	invoice *types.Invoice
	err     error
	fetched []string
}

func (c *stubInvoiceClient) CreateInvoice(context.Context, types.CreateInvoiceParams) (*types.Invoice, error) {
	return c.invoice, c.err
}

func (c *stubInvoiceClient) FetchInvoice(_ context.Context, id string) (*types.Invoice, error) {
	c.fetched = append(c.fetched, id)
	return c.invoice, c.err
}

type stubDisputes struct {
	notices []types.DisputeNotice
	err     error
}

func (d *stubDisputes) EnqueueDispute(_ context.Context, n types.DisputeNotice) error {
	d.notices = append(d.notices, n)
	return d.err
}

func registryWith(tag types.ProviderTag, c external.InvoiceClient) *external.ClientRegistry {
	return external.NewStaticRegistry(map[types.ProviderTag]external.InvoiceClient{tag: c})
}
