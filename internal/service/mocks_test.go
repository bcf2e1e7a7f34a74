package service

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/session"
)

type apiCall struct {
	method    string
	cartID    string
	productID int64
	quantity  int
}

type mockAPI struct {
	m     sync.Mutex
	calls []apiCall
	lines []domain.CartLine
	err   error
	// getErr only affects GetCart.
	getErr error

	// When set, GetCart signals entered and waits for release.
	entered chan struct{}
	release chan struct{}

	// When set, PatchQuantity signals patchEntered and waits for patchRelease.
	patchEntered chan struct{}
	patchRelease chan struct{}
}

func (m *mockAPI) record(c apiCall) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.calls = append(m.calls, c)
	return m.err
}

func (m *mockAPI) AddItem(_ context.Context, cartID string, productID int64, quantity int) error {
	return m.record(apiCall{method: "POST", cartID: cartID, productID: productID, quantity: quantity})
}

func (m *mockAPI) PatchQuantity(_ context.Context, cartID string, productID int64, delta int) error {
	if m.patchEntered != nil {
		m.patchEntered <- struct{}{}
		<-m.patchRelease
	}
	return m.record(apiCall{method: "PATCH", cartID: cartID, productID: productID, quantity: delta})
}

func (m *mockAPI) RemoveItem(_ context.Context, cartID string, productID int64) error {
	return m.record(apiCall{method: "DELETE", cartID: cartID, productID: productID})
}

func (m *mockAPI) GetCart(_ context.Context, cartID string) ([]domain.CartLine, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
		<-m.release
	}
	m.m.Lock()
	defer m.m.Unlock()
	m.calls = append(m.calls, apiCall{method: "GET", cartID: cartID})
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make([]domain.CartLine, len(m.lines))
	copy(out, m.lines)
	return out, nil
}

func (m *mockAPI) setErr(err error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.err = err
}

func (m *mockAPI) getCalls() []apiCall {
	m.m.Lock()
	defer m.m.Unlock()
	out := make([]apiCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockAPI) reset() {
	m.m.Lock()
	defer m.m.Unlock()
	m.calls = nil
}

type mockCache struct {
	m     sync.RWMutex
	carts map[string]*domain.Cart
	err   error
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, cartID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[cartID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c.Clone(), nil
}

func (m *mockCache) Set(_ context.Context, c *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[c.ID] = c.Clone()
	return m.err
}

func (m *mockCache) Delete(_ context.Context, cartID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, cartID)
	return m.err
}

func (m *mockCache) getCart(cartID string) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[cartID]
}

type mockStore struct {
	m        sync.Mutex
	profiles map[string]string
	err      error
}

func (m *mockStore) CartID(_ context.Context, sessionID string) (string, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return "", m.err
	}
	id, ok := m.profiles[sessionID]
	if !ok {
		return "", session.ErrSessionNotFound
	}
	return id, nil
}

func (m *mockStore) Save(_ context.Context, sessionID string, p session.Profile) error {
	id, err := p.ParseCartID()
	if err != nil {
		return err
	}
	m.m.Lock()
	defer m.m.Unlock()
	m.profiles[sessionID] = id
	return nil
}

func (m *mockStore) Delete(_ context.Context, sessionID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.profiles, sessionID)
	return nil
}

type updateRecorder struct {
	m       sync.Mutex
	updates []Update
}

func (r *updateRecorder) publish(u Update) {
	r.m.Lock()
	defer r.m.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) last() Update {
	r.m.Lock()
	defer r.m.Unlock()
	return r.updates[len(r.updates)-1]
}

func (r *updateRecorder) statuses() []Status {
	r.m.Lock()
	defer r.m.Unlock()
	out := make([]Status, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Status
	}
	return out
}
