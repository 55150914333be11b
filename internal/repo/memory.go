package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"school-payments/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore implements OrderRepo, StatusRepo and WebhookRepo in process
// memory. It ignores the tx arguments.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[uuid.UUID]domain.Order
	statuses map[uuid.UUID]domain.OrderStatus // keyed by order id
	webhooks []domain.Webhook
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[uuid.UUID]domain.Order),
		statuses: make(map[uuid.UUID]domain.OrderStatus),
	}
}

var (
	_ OrderRepo   = (*MemoryStore)(nil)
	_ StatusRepo  = (*MemoryStore)(nil)
	_ WebhookRepo = (*MemoryStore)(nil)
)

func (m *MemoryStore) CreateOrder(_ context.Context, _ *sql.Tx, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return errDuplicate("orders.id")
	}
	if order.CustomOrderID != nil {
		for _, o := range m.orders {
			if o.CustomOrderID != nil && *o.CustomOrderID == *order.CustomOrderID {
				return errDuplicate("orders.custom_order_id")
			}
		}
	}
	m.orders[order.ID] = *order
	return nil
}

func (m *MemoryStore) FindById(_ context.Context, idOrCustomID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id, err := uuid.Parse(idOrCustomID); err == nil {
		if o, ok := m.orders[id]; ok {
			return &o, nil
		}
	}
	for _, o := range m.orders {
		if o.CustomOrderID != nil && *o.CustomOrderID == idOrCustomID {
			return &o, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateStatus(_ context.Context, _ *sql.Tx, status *domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.statuses[status.OrderID]; exists {
		return errDuplicate("order_statuses.order_id")
	}
	m.statuses[status.OrderID] = *status
	return nil
}

func (m *MemoryStore) FindByOrderId(_ context.Context, orderID uuid.UUID) (*domain.OrderStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.statuses[orderID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *MemoryStore) FindByCollectRequestId(_ context.Context, collectRequestID string) (*domain.OrderStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.statuses {
		if s.CollectRequestID != nil && *s.CollectRequestID == collectRequestID {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) AttachCollectRequest(_ context.Context, _ *sql.Tx, orderID uuid.UUID, collectRequestID string, degraded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[orderID]
	if !ok {
		return sql.ErrNoRows
	}
	s.CollectRequestID = &collectRequestID
	s.Degraded = degraded
	s.UpdatedAt = time.Now()
	m.statuses[orderID] = s
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, _ *sql.Tx, orderID uuid.UUID, u domain.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[orderID]
	if !ok {
		return false, nil
	}
	if u.NotAfter != nil && s.PaymentTime.After(*u.NotAfter) {
		return false, nil
	}
	if u.ExpectVersion != nil && s.Version != *u.ExpectVersion {
		return false, nil
	}

	s.Status = u.Status
	s.PaymentTime = u.PaymentTime
	if u.PaymentDetails != nil {
		s.PaymentDetails = strPtr(*u.PaymentDetails)
	}
	if u.BankReference != nil {
		s.BankReference = strPtr(*u.BankReference)
	}
	if u.PaymentMode != nil {
		s.PaymentMode = *u.PaymentMode
	}
	if u.PaymentMessage != nil {
		s.PaymentMessage = strPtr(*u.PaymentMessage)
	}
	if u.ErrorMessage != nil {
		s.ErrorMessage = strPtr(*u.ErrorMessage)
	}
	if u.TransactionAmount != nil {
		s.TransactionAmount = *u.TransactionAmount
	}
	s.Version++
	s.UpdatedAt = time.Now()
	m.statuses[orderID] = s
	return true, nil
}

func (m *MemoryStore) FindStale(_ context.Context, before time.Time, limit int) ([]domain.OrderStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.OrderStatus
	for _, s := range m.statuses {
		if s.Status.Unsettled() && s.CollectRequestID != nil && !s.Degraded && s.UpdatedAt.Before(before) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, w *domain.Webhook) error {
	prepareWebhook(w)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, *w)
	return nil
}

func (m *MemoryStore) ListByCollectRequestId(_ context.Context, collectRequestID string) ([]domain.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Webhook
	for _, w := range m.webhooks {
		var ref struct {
			CollectRequestID string `json:"collect_request_id"`
		}
		if err := json.Unmarshal(w.Payload, &ref); err == nil && ref.CollectRequestID == collectRequestID {
			out = append(out, w)
		}
	}
	return out, nil
}

// Counts returns the number of stored orders, statuses and webhooks.
func (m *MemoryStore) Counts() (orders, statuses, webhooks int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders), len(m.statuses), len(m.webhooks)
}

type errDuplicate string

func (e errDuplicate) Error() string { return "duplicate key " + string(e) }

func (e errDuplicate) Unwrap() error { return domain.ErrDuplicate }

func strPtr(s string) *string { return &s }
