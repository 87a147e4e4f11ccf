package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poshub/orders-api/internal/errors"
)

// MemoryStore is a thread-safe in-memory Store. Orders live for the lifetime
// of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]Order

	now   func() time.Time
	newID func() uuid.UUID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[uuid.UUID]Order),
		now:    time.Now,
		newID:  uuid.New,
	}
}

// Create validates in, assigns an id and creation time and stores the order.
func (m *MemoryStore) Create(_ context.Context, in Input) (Order, error) {
	if err := in.Validate(); err != nil {
		return Order{}, err
	}

	o := Order{
		ID:           m.newID(),
		CreatedAt:    m.now().UTC(),
		CustomerName: *in.CustomerName,
		Amount:       *in.Amount,
		Currency:     *in.Currency,
		CreatedBy:    in.CreatedBy,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[o.ID] = o
	return o, nil
}

// Get returns the order with the given id.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return Order{}, errors.NotFound(fmt.Sprintf("Order %s not found", id), ErrNotFound)
	}
	return o, nil
}

// Count returns the number of stored orders.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}
