package domain

import (
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Cart is the local view of one visitor's remote cart. Lines keep
// insertion order and a product appears at most once.
type Cart struct {
	ID        string     `json:"id"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Stock     int             `json:"stock"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CanIncrement reports whether the stock ceiling still allows an increment.
func (l CartLine) CanIncrement() bool {
	return l.Quantity < l.Stock
}

func NewCart(id string) *Cart {
	return &Cart{ID: id, UpdatedAt: time.Now()}
}

func (c *Cart) index(productID int64) int {
	return slices.IndexFunc(c.Lines, func(l CartLine) bool { return l.ProductID == productID })
}

func (c *Cart) Line(productID int64) (CartLine, bool) {
	i := c.index(productID)
	if i < 0 {
		return CartLine{}, false
	}
	return c.Lines[i], true
}

// Add merges quantity into the line for p, creating it when absent.
// It reports whether a new line was inserted.
func (c *Cart) Add(p Product, quantity int) (bool, error) {
	if quantity < 1 {
		return false, ErrInvalidQuantity
	}
	defer c.touch()

	if i := c.index(p.ID); i >= 0 {
		c.Lines[i].Quantity += quantity
		return false, nil
	}
	c.Lines = append(c.Lines, CartLine{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		Quantity:  quantity,
		Stock:     p.Stock,
	})
	return true, nil
}

// ApplyDelta adds delta to the line's quantity. A line whose quantity
// drops to zero or below is removed. It reports whether the line existed.
func (c *Cart) ApplyDelta(productID int64, delta int) bool {
	i := c.index(productID)
	if i < 0 {
		return false
	}
	defer c.touch()

	c.Lines[i].Quantity += delta
	if c.Lines[i].Quantity <= 0 {
		c.Lines = slices.Delete(c.Lines, i, i+1)
	}
	return true
}

// Remove deletes the line for productID and returns it with its former
// position. Removing an absent product is a no-op.
func (c *Cart) Remove(productID int64) (CartLine, int, bool) {
	i := c.index(productID)
	if i < 0 {
		return CartLine{}, -1, false
	}
	line := c.Lines[i]
	c.Lines = slices.Delete(c.Lines, i, i+1)
	c.touch()
	return line, i, true
}

// Restore puts a removed line back at pos. If the product was re-added in
// the meantime the quantities are merged instead.
func (c *Cart) Restore(line CartLine, pos int) {
	defer c.touch()

	if i := c.index(line.ProductID); i >= 0 {
		c.Lines[i].Quantity += line.Quantity
		return
	}
	pos = max(0, min(pos, len(c.Lines)))
	c.Lines = slices.Insert(c.Lines, pos, line)
}

// Replace swaps the whole content for lines reported by the remote cart.
// Duplicate product ids are merged and non-positive quantities dropped.
func (c *Cart) Replace(lines []CartLine) {
	c.Lines = make([]CartLine, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if i := c.index(l.ProductID); i >= 0 {
			c.Lines[i].Quantity += l.Quantity
			continue
		}
		c.Lines = append(c.Lines, l)
	}
	c.touch()
}

// ItemCount is the number of units across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

func (c *Cart) LineCount() int {
	return len(c.Lines)
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) Clone() *Cart {
	return &Cart{
		ID:        c.ID,
		Lines:     slices.Clone(c.Lines),
		UpdatedAt: c.UpdatedAt,
	}
}

func (c *Cart) touch() {
	c.UpdatedAt = time.Now()
}
