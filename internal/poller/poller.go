// Package poller ends storefront sessions whose cart was checked out.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	Topic   = "checkout-completed"
	GroupID = "storefront"

	readBackoff = time.Second
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CartCloser drops every session bound to a cart.
type CartCloser interface {
	CloseCart(ctx context.Context, cartID string) int
}

type Poller struct {
	reader MessageReader
	carts  CartCloser
	logger *zap.Logger
}

func NewPoller(carts CartCloser, log *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewPollerWithReader(reader, carts, log)
}

func NewPollerWithReader(reader MessageReader, carts CartCloser, log *zap.Logger) *Poller {
	return &Poller{reader: reader, carts: carts, logger: log}
}

// Run consumes checkout events until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.handleNext(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("checkout event skipped", zap.Error(err))
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Warn("error closing reader", zap.Error(err))
	}
}

var errMissingCartID = errors.New("missing or invalid cart_id")

func (p *Poller) handleNext(ctx context.Context) error {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(readBackoff):
			}
		}
		return fmt.Errorf("error reading message: %w", err)
	}

	cartID, err := parseCartID(m.Value)
	if err != nil {
		return fmt.Errorf("offset %d: %w", m.Offset, err)
	}

	closed := p.carts.CloseCart(ctx, cartID)
	p.logger.Info("cart checked out",
		zap.String("cart_id", cartID),
		zap.Int("sessions_closed", closed))
	return nil
}

func parseCartID(value []byte) (string, error) {
	var payload struct {
		CartID any `json:"cart_id"`
	}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("error parsing message: %w", err)
	}

	switch v := payload.CartID.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return v.String(), nil
		}
	}
	return "", errMissingCartID
}
