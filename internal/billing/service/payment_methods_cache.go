package service

import (
	"sync"
	"time"

	"github.com/smallbiznis/kinship/internal/billing/domain"
	"github.com/smallbiznis/kinship/internal/clock"
)

const paymentMethodsTTL = 2 * time.Minute

// paymentMethodsCache keeps each customer's card list for a short while.
type paymentMethodsCache struct {
	ttl   time.Duration
	clock clock.Clock
	mu    sync.RWMutex
	items map[string]paymentMethodsCacheEntry
}

type paymentMethodsCacheEntry struct {
	expiresAt time.Time
	methods   []domain.PaymentMethod
}

func newPaymentMethodsCache(ttl time.Duration, c clock.Clock) *paymentMethodsCache {
	return &paymentMethodsCache{
		ttl:   ttl,
		clock: c,
		items: make(map[string]paymentMethodsCacheEntry),
	}
}

func (c *paymentMethodsCache) Get(customerID string) ([]domain.PaymentMethod, bool) {
	if c == nil || customerID == "" {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.items[customerID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.clock.Now().After(entry.expiresAt) {
		c.Invalidate(customerID)
		return nil, false
	}
	methods := append([]domain.PaymentMethod(nil), entry.methods...)
	return methods, true
}

func (c *paymentMethodsCache) Set(customerID string, methods []domain.PaymentMethod) {
	if c == nil || customerID == "" {
		return
	}
	cloned := append([]domain.PaymentMethod(nil), methods...)
	c.mu.Lock()
	c.items[customerID] = paymentMethodsCacheEntry{
		expiresAt: c.clock.Now().Add(c.ttl),
		methods:   cloned,
	}
	c.mu.Unlock()
}

func (c *paymentMethodsCache) Invalidate(customerID string) {
	if c == nil || customerID == "" {
		return
	}
	c.mu.Lock()
	delete(c.items, customerID)
	c.mu.Unlock()
}
