// Package checkpoint persists the crawl cursor so a run can resume where the
// previous one stopped.
package checkpoint

import (
	"context"
	"fmt"
)

// Cursor identifies the next list page the crawler will request. Traversal
// runs from the starting year downward, months 12 to 1 within a year, markets
// in configured order within a month, and pages ascending within a market.
type Cursor struct {
	Year        int `json:"year"`
	Month       int `json:"month"`
	MarketIndex int `json:"market_index"`
	Page        int `json:"page"`
}

// Store loads and saves the cursor.
type Store interface {
	Load(ctx context.Context) (Cursor, error)
	Save(ctx context.Context, c Cursor) error
}

// NextPage moves to the following page of the same market.
func (c Cursor) NextPage() Cursor {
	c.Page++
	return c
}

// NextMarket moves to the first page of the next market.
func (c Cursor) NextMarket() Cursor {
	c.MarketIndex++
	c.Page = 1
	return c
}

// NextMonth moves to the first market of the previous month. The month may
// reach zero; NextYear then rolls into the prior year.
func (c Cursor) NextMonth() Cursor {
	c.Month--
	c.MarketIndex = 0
	c.Page = 1
	return c
}

// NextYear moves to December of the previous year.
func (c Cursor) NextYear() Cursor {
	c.Year--
	c.Month = 12
	c.MarketIndex = 0
	c.Page = 1
	return c
}

// Before reports whether c comes earlier than o in traversal order.
func (c Cursor) Before(o Cursor) bool {
	if c.Year != o.Year {
		return c.Year > o.Year
	}
	if c.Month != o.Month {
		return c.Month > o.Month
	}
	if c.MarketIndex != o.MarketIndex {
		return c.MarketIndex < o.MarketIndex
	}
	return c.Page < o.Page
}

// Normalize clamps out-of-range fields left by hand edits or older files.
func (c Cursor) Normalize() Cursor {
	if c.Month > 12 {
		c.Month = 12
	}
	if c.Month < 0 {
		c.Month = 0
	}
	if c.MarketIndex < 0 {
		c.MarketIndex = 0
	}
	if c.Page < 1 {
		c.Page = 1
	}
	return c
}

// String renders the cursor for logs.
func (c Cursor) String() string {
	return fmt.Sprintf("%d/%02d market=%d page=%d", c.Year, c.Month, c.MarketIndex, c.Page)
}
