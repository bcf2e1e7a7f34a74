package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const cacheWriteTimeout = time.Second

// CartAPI is the remote cart resource as seen by the synchronizer.
type CartAPI interface {
	AddItem(ctx context.Context, cartID string, productID int64, quantity int) error
	PatchQuantity(ctx context.Context, cartID string, productID int64, delta int) error
	RemoveItem(ctx context.Context, cartID string, productID int64) error
	GetCart(ctx context.Context, cartID string) ([]domain.CartLine, error)
}

// Update is published after every local change to the cart.
type Update struct {
	CartID    string
	Op        string
	ProductID int64
	Status    Status
	ItemCount int
}

type Publisher func(Update)

type Options struct {
	Strategy Strategy
	// Cache is optional; snapshots are skipped when nil.
	Cache   cache.CartCache
	Publish Publisher
	Logger  *zap.Logger
}

// Synchronizer keeps one session's local cart convergent with the remote
// cart resource. Remote calls run outside the lock, so overlapping calls on
// the same product are not serialized against each other.
type Synchronizer struct {
	mu   sync.Mutex
	cart *domain.Cart
	// gen advances whenever the cart is replaced wholesale.
	gen uint64

	cartID   string
	api      CartAPI
	cache    cache.CartCache
	strategy Strategy
	publish  Publisher
	logger   *zap.Logger
	sfg      singleflight.Group
}

func NewSynchronizer(cartID string, api CartAPI, opts Options) (*Synchronizer, error) {
	if cartID == "" {
		return nil, classify("open", 0, fmt.Errorf("%w: empty cart id", session.ErrSessionMalformed))
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{
		cart:     domain.NewCart(cartID),
		cartID:   cartID,
		api:      api,
		cache:    opts.Cache,
		strategy: opts.Strategy,
		publish:  opts.Publish,
		logger:   log.With(zap.String("cart_id", cartID)),
	}, nil
}

func (s *Synchronizer) CartID() string {
	return s.cartID
}

// Cart returns a copy of the local cart.
func (s *Synchronizer) Cart() *domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

func (s *Synchronizer) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.ItemCount()
}

// AddItem merges quantity units of p into the cart and associates them
// with the remote cart.
func (s *Synchronizer) AddItem(ctx context.Context, p domain.Product, quantity int) Outcome {
	const op = "add"
	if p.ID <= 0 {
		return s.reject(ctx, op, p.ID, errors.New("product id must be positive"))
	}
	if quantity < 1 {
		return s.reject(ctx, op, p.ID, domain.ErrInvalidQuantity)
	}

	return s.mutate(ctx, op, p.ID,
		func(c *domain.Cart) func(*domain.Cart) {
			_, _ = c.Add(p, quantity)
			return func(c *domain.Cart) { c.ApplyDelta(p.ID, -quantity) }
		},
		func(ctx context.Context) error {
			return s.api.AddItem(ctx, s.cartID, p.ID, quantity)
		})
}

// ChangeQuantity applies a signed delta. A decrement reaching zero becomes
// RemoveItem; increments stop at the line's stock ceiling.
func (s *Synchronizer) ChangeQuantity(ctx context.Context, productID int64, delta int) Outcome {
	const op = "change_quantity"
	if delta == 0 {
		return s.reject(ctx, op, productID, errors.New("delta must be non-zero"))
	}

	s.mu.Lock()
	line, ok := s.cart.Line(productID)
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("quantity change for product not in cart", zap.Int64("product_id", productID))
		return Outcome{Status: Ignored}
	}
	if line.Quantity+delta <= 0 {
		return s.RemoveItem(ctx, productID)
	}
	if delta > 0 && !line.CanIncrement() {
		s.logger.Debug("stock ceiling reached",
			zap.Int64("product_id", productID),
			zap.Int("quantity", line.Quantity),
			zap.Int("stock", line.Stock))
		return Outcome{Status: Ignored}
	}

	return s.mutate(ctx, op, productID,
		func(c *domain.Cart) func(*domain.Cart) {
			c.ApplyDelta(productID, delta)
			return func(c *domain.Cart) { c.ApplyDelta(productID, -delta) }
		},
		func(ctx context.Context) error {
			return s.api.PatchQuantity(ctx, s.cartID, productID, delta)
		})
}

// RemoveItem drops the product's line. Removing a product that is not in
// the cart changes nothing and makes no remote call.
func (s *Synchronizer) RemoveItem(ctx context.Context, productID int64) Outcome {
	const op = "remove"

	s.mu.Lock()
	_, ok := s.cart.Line(productID)
	s.mu.Unlock()
	if !ok {
		return Outcome{Status: Ignored}
	}

	return s.mutate(ctx, op, productID,
		func(c *domain.Cart) func(*domain.Cart) {
			line, pos, removed := c.Remove(productID)
			return func(c *domain.Cart) {
				if removed {
					c.Restore(line, pos)
				}
			}
		},
		func(ctx context.Context) error {
			return s.api.RemoveItem(ctx, s.cartID, productID)
		})
}

// Load seeds the cart from the snapshot cache, falling back to the backend.
func (s *Synchronizer) Load(ctx context.Context) error {
	if s.cache != nil {
		cart, err := s.cache.Get(ctx, s.cartID)
		if err == nil {
			s.mu.Lock()
			s.cart.Replace(cart.Lines)
			s.gen++
			count := s.cart.ItemCount()
			s.mu.Unlock()
			s.emit("load", 0, Confirmed, count)
			return nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get error", zap.Error(err))
		}
	}
	return s.Refresh(ctx)
}

// Refresh replaces local state with the backend's authoritative lines.
// Concurrent refreshes of the same cart share one remote call.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	_, err, _ := s.sfg.Do(s.cartID, func() (any, error) {
		lines, err := s.api.GetCart(ctx, s.cartID)
		if err != nil {
			serr := classify("refresh", 0, err)
			logger.For(ctx, s.logger).Warn("cart refresh failed", zap.Error(serr))
			return nil, serr
		}

		s.mu.Lock()
		s.cart.Replace(lines)
		s.gen++
		snapshot := s.cart.Clone()
		count := s.cart.ItemCount()
		s.mu.Unlock()

		s.emit("refresh", 0, Confirmed, count)
		s.storeSnapshot(ctx, snapshot)
		return nil, nil
	})
	return err
}

func (s *Synchronizer) mutate(
	ctx context.Context,
	op string,
	productID int64,
	apply func(*domain.Cart) (undo func(*domain.Cart)),
	call func(context.Context) error,
) Outcome {
	if s.strategy == Pessimistic {
		if err := call(ctx); err != nil {
			return Outcome{Status: Failed, Err: s.fail(ctx, op, productID, err)}
		}
		s.mu.Lock()
		apply(s.cart)
		snapshot, count := s.cart.Clone(), s.cart.ItemCount()
		s.mu.Unlock()

		s.emit(op, productID, Confirmed, count)
		s.storeSnapshot(ctx, snapshot)
		return Outcome{Status: Confirmed}
	}

	s.mu.Lock()
	undo := apply(s.cart)
	gen := s.gen
	count := s.cart.ItemCount()
	s.mu.Unlock()
	s.emit(op, productID, Pending, count)

	if err := call(ctx); err != nil {
		s.mu.Lock()
		// A reload since apply already dropped the optimistic change.
		reloaded := s.gen != gen
		if !reloaded {
			undo(s.cart)
		}
		count = s.cart.ItemCount()
		s.mu.Unlock()
		if reloaded {
			logger.For(ctx, s.logger).Debug("rollback skipped, cart reloaded during call",
				zap.String("op", op), zap.Int64("product_id", productID))
		}

		serr := s.fail(ctx, op, productID, err)
		s.emit(op, productID, RolledBack, count)
		return Outcome{Status: RolledBack, Err: serr}
	}

	s.mu.Lock()
	snapshot := s.cart.Clone()
	s.mu.Unlock()

	s.emit(op, productID, Confirmed, snapshot.ItemCount())
	s.storeSnapshot(ctx, snapshot)
	return Outcome{Status: Confirmed}
}

func (s *Synchronizer) reject(ctx context.Context, op string, productID int64, err error) Outcome {
	serr := &SyncError{Kind: InvalidRequest, Op: op, ProductID: productID, Err: err}
	logger.For(ctx, s.logger).Debug("cart operation rejected", zap.Error(serr))
	return Outcome{Status: Failed, Err: serr}
}

func (s *Synchronizer) fail(ctx context.Context, op string, productID int64, err error) *SyncError {
	serr := classify(op, productID, err)
	logger.For(ctx, s.logger).Warn("remote cart call failed",
		zap.String("op", op),
		zap.Int64("product_id", productID),
		zap.Stringer("kind", serr.Kind),
		zap.Stringer("strategy", s.strategy),
		zap.Error(err))
	return serr
}

func (s *Synchronizer) emit(op string, productID int64, status Status, count int) {
	if s.publish == nil {
		return
	}
	s.publish(Update{
		CartID:    s.cartID,
		Op:        op,
		ProductID: productID,
		Status:    status,
		ItemCount: count,
	})
}

func (s *Synchronizer) storeSnapshot(ctx context.Context, snapshot *domain.Cart) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, snapshot); err != nil {
		s.logger.Warn("cache set error", zap.Error(err))
	}
}
