package domain

import "github.com/shopspring/decimal"

// Product is the catalog entry a new cart line is seeded from.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
}
