// Package remote talks to the storefront backend's cart and catalog
// resources over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	maxResponseSize = 1 << 20 // 1MB
	maxErrorExcerpt = 256
)

type Config struct {
	BaseURL      string        `yaml:"base_url"`
	AddPath      string        `yaml:"add_path"`
	QuantityPath string        `yaml:"quantity_path"`
	RemovePath   string        `yaml:"remove_path"`
	CartPath     string        `yaml:"cart_path"`
	ProductPath  string        `yaml:"product_path"`
	Timeout      time.Duration `yaml:"timeout"`

	// Consecutive 5xx or transport failures before the breaker opens.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// DefaultConfig mirrors the routes of the storefront backend.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:5000",
		AddPath:         "/api/v1/aniade",
		QuantityPath:    "/api/v1/aniade",
		RemovePath:      "/api/v1/carrito/producto",
		CartPath:        "/api/v1/carrito",
		ProductPath:     "/api/v1/producto",
		Timeout:         5 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger
}

// NewClient builds a client; a nil httpClient means an otelhttp
// instrumented default transport.
func NewClient(cfg Config, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "remote-cart",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= max(cfg.BreakerFailures, 1)
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about the backend.
			if errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

type quantityBody struct {
	Quantity int `json:"cantidad"`
}

type lineDTO struct {
	ProductID int64           `json:"id_producto"`
	Name      string          `json:"nombre_producto"`
	UnitPrice decimal.Decimal `json:"precio_producto"`
	Stock     int             `json:"stock_producto"`
	Quantity  int             `json:"cantidad"`
}

// AddItem associates quantity units of productID with the cart.
func (c *Client) AddItem(ctx context.Context, cartID string, productID int64, quantity int) error {
	_, err := c.do(ctx, http.MethodPost, c.itemPath(c.cfg.AddPath, cartID, productID), quantityBody{Quantity: quantity})
	return err
}

// PatchQuantity sends a signed delta; the backend applies it to its own
// quantity.
func (c *Client) PatchQuantity(ctx context.Context, cartID string, productID int64, delta int) error {
	_, err := c.do(ctx, http.MethodPatch, c.itemPath(c.cfg.QuantityPath, cartID, productID), quantityBody{Quantity: delta})
	return err
}

func (c *Client) RemoveItem(ctx context.Context, cartID string, productID int64) error {
	_, err := c.do(ctx, http.MethodDelete, c.itemPath(c.cfg.RemovePath, cartID, productID), nil)
	return err
}

// GetCart returns the backend's authoritative lines for the cart.
func (c *Client) GetCart(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	data, err := c.do(ctx, http.MethodGet, c.cfg.CartPath+"/"+url.PathEscape(cartID), nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var dtos []lineDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", cartID, err)
	}
	lines := make([]domain.CartLine, len(dtos))
	for i, d := range dtos {
		lines[i] = domain.CartLine{
			ProductID: d.ProductID,
			Name:      d.Name,
			UnitPrice: d.UnitPrice,
			Quantity:  d.Quantity,
			Stock:     d.Stock,
		}
	}
	return lines, nil
}

func (c *Client) GetProduct(ctx context.Context, productID int64) (domain.Product, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%d", c.cfg.ProductPath, productID), nil)
	if err != nil {
		return domain.Product{}, err
	}

	var d lineDTO
	if err := json.Unmarshal(data, &d); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %d: %w", productID, err)
	}
	return domain.Product{
		ID:        d.ProductID,
		Name:      d.Name,
		UnitPrice: d.UnitPrice,
		Stock:     d.Stock,
	}, nil
}

func (c *Client) itemPath(prefix, cartID string, productID int64) string {
	return fmt.Sprintf("%s/%s/%d", prefix, url.PathEscape(cartID), productID)
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	requestID := logger.RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", requestID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s %s: %v", ErrNetwork, method, path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			excerpt := strings.TrimSpace(string(data))
			if len(excerpt) > maxErrorExcerpt {
				excerpt = excerpt[:maxErrorExcerpt]
			}
			return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: excerpt}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}

	logger.For(ctx, c.logger).Debug("remote cart call",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("remote_request_id", requestID),
		zap.Error(err))
	return data, err
}
