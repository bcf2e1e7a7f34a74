package service

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/session"
	"go.uber.org/zap"
)

type openSession struct {
	synchronizer *Synchronizer
	lastUsed     time.Time
}

// Registry owns one Synchronizer per open visitor session. A synchronizer
// is built when its session is first opened and dropped on Close, on
// checkout, or after sitting idle (see EvictIdle).
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*openSession

	store  session.Store
	api    CartAPI
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewRegistry(store session.Store, api CartAPI, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*openSession),
		store:    store,
		api:      api,
		opts:     opts,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Open returns the session's synchronizer, creating and loading it on first
// use. A backend failure while loading leaves an empty cart that a later
// Refresh can fill.
func (r *Registry) Open(ctx context.Context, sessionID string) (*Synchronizer, error) {
	r.mu.Lock()
	if open, ok := r.sessions[sessionID]; ok {
		open.lastUsed = r.now()
		r.mu.Unlock()
		return open.synchronizer, nil
	}
	r.mu.Unlock()

	cartID, err := r.store.CartID(ctx, sessionID)
	if err != nil {
		return nil, classify("open", 0, err)
	}
	s, err := NewSynchronizer(cartID, r.api, r.opts)
	if err != nil {
		return nil, err
	}
	if err := s.Load(ctx); err != nil {
		logger.For(ctx, r.logger).Warn("initial cart load failed",
			zap.String("session_id", sessionID),
			zap.String("cart_id", cartID),
			zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[sessionID]; ok {
		existing.lastUsed = r.now()
		return existing.synchronizer, nil
	}
	r.sessions[sessionID] = &openSession{synchronizer: s, lastUsed: r.now()}
	return s, nil
}

// Close discards the session's synchronizer. It reports whether the session
// was open.
func (r *Registry) Close(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	return ok
}

// CloseCart discards every session bound to cartID and evicts its
// snapshot. It returns the number of sessions closed.
func (r *Registry) CloseCart(ctx context.Context, cartID string) int {
	r.mu.Lock()
	closed := 0
	for id, open := range r.sessions {
		if open.synchronizer.CartID() == cartID {
			delete(r.sessions, id)
			closed++
		}
	}
	r.mu.Unlock()

	if r.opts.Cache != nil {
		if err := r.opts.Cache.Delete(ctx, cartID); err != nil {
			r.logger.Warn("cache invalidate error", zap.String("cart_id", cartID), zap.Error(err))
		}
	}
	return closed
}

// EvictIdle drops sessions not opened within maxIdle and returns how many
// were dropped. The snapshot cache is left alone so a returning visitor
// reloads from it.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, open := range r.sessions {
		if open.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			evicted++
		}
	}
	return evicted
}

// RunEvictor calls EvictIdle every interval until ctx is done.
func (r *Registry) RunEvictor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.EvictIdle(maxIdle); n > 0 {
				r.logger.Debug("idle sessions evicted", zap.Int("count", n), zap.Int("open", r.Len()))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
