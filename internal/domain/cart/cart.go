// Package cart implements the session-scoped shopping cart.
//
// A Cart stores only product IDs and quantities. Names and prices are
// resolved against the catalog every time they are read, so the catalog is
// always authoritative for price.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/product"
)

// UnknownProductError is returned when a product ID cannot be resolved
// against the catalog.
type UnknownProductError struct {
	ProductID int64
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// MaxQuantity is the largest quantity a single line may hold.
const MaxQuantity = 9999

// InvalidQuantityError is returned when an add requests fewer than one unit
// or would push the line above MaxQuantity.
type InvalidQuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	if e.Quantity > 0 {
		return fmt.Sprintf("quantity %d for product %d exceeds the limit of %d per line", e.Quantity, e.ProductID, MaxQuantity)
	}
	return fmt.Sprintf("quantity must be at least 1 for product %d, got %d", e.ProductID, e.Quantity)
}

// Line is one product entry in a cart.
type Line struct {
	ProductID int64
	Quantity  int
}

// Item is a cart line resolved against the catalog.
type Item struct {
	Product  product.Product
	Quantity int
}

// Subtotal returns quantity × unit price.
func (i Item) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is an ordered collection of lines with at most one line per product.
// The zero value is an empty cart ready to use.
type Cart struct {
	lines []Line
}

// New returns a cart holding the given lines. Lines with a repeated product
// ID are merged and quantities are clamped to [1, MaxQuantity], so the result
// always satisfies the cart invariants.
func New(lines ...Line) *Cart {
	c := &Cart{}
	for _, l := range lines {
		q := clampQuantity(l.Quantity)
		if i := c.index(l.ProductID); i >= 0 {
			c.lines[i].Quantity = min(c.lines[i].Quantity+q, MaxQuantity)
			continue
		}
		c.lines = append(c.lines, Line{ProductID: l.ProductID, Quantity: q})
	}
	return c
}

func clampQuantity(q int) int {
	return min(max(q, 1), MaxQuantity)
}

func (c *Cart) index(id int64) int {
	for i, l := range c.lines {
		if l.ProductID == id {
			return i
		}
	}
	return -1
}

// Add puts quantity units of the product into the cart. An existing line is
// incremented; otherwise a new line is appended. The cart is left unchanged
// when an error is returned.
func (c *Cart) Add(catalog product.Finder, id int64, quantity int) error {
	if quantity < 1 || quantity > MaxQuantity {
		return &InvalidQuantityError{ProductID: id, Quantity: quantity}
	}
	if _, ok := catalog.Find(id); !ok {
		return &UnknownProductError{ProductID: id}
	}

	if i := c.index(id); i >= 0 {
		if quantity > MaxQuantity-c.lines[i].Quantity {
			return &InvalidQuantityError{ProductID: id, Quantity: quantity}
		}
		c.lines[i].Quantity += quantity
		return nil
	}
	c.lines = append(c.lines, Line{ProductID: id, Quantity: quantity})
	return nil
}

// UpdateQuantity replaces the quantity of an existing line, clamping it to
// [1, MaxQuantity]. Products not in the cart are ignored.
func (c *Cart) UpdateQuantity(id int64, quantity int) {
	if i := c.index(id); i >= 0 {
		c.lines[i].Quantity = clampQuantity(quantity)
	}
}

// Remove deletes the line for the product, if any.
func (c *Cart) Remove(id int64) {
	if i := c.index(id); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}

// Clear removes every line.
func (c *Cart) Clear() {
	c.lines = nil
}

// Prune drops lines whose product is no longer in the catalog and reports
// whether anything was removed.
func (c *Cart) Prune(catalog product.Finder) bool {
	kept := c.lines[:0]
	for _, l := range c.lines {
		if _, ok := catalog.Find(l.ProductID); ok {
			kept = append(kept, l)
		}
	}
	pruned := len(kept) != len(c.lines)
	c.lines = kept
	return pruned
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// Len returns the number of distinct products in the cart.
func (c *Cart) Len() int { return len(c.lines) }

// Quantity returns the quantity held for the product, or zero.
func (c *Cart) Quantity(id int64) int {
	if i := c.index(id); i >= 0 {
		return c.lines[i].Quantity
	}
	return 0
}

// Snapshot returns a copy of the raw lines in insertion order.
func (c *Cart) Snapshot() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// TotalQuantity returns the sum of all line quantities.
func (c *Cart) TotalQuantity() int {
	total := 0
	for _, l := range c.lines {
		total += l.Quantity
	}
	return total
}

// Lines resolves every line against the catalog in insertion order. Lines
// whose product is missing from the catalog are skipped.
func (c *Cart) Lines(catalog product.Finder) []Item {
	items := make([]Item, 0, len(c.lines))
	for _, l := range c.lines {
		p, ok := catalog.Find(l.ProductID)
		if !ok {
			continue
		}
		items = append(items, Item{Product: p, Quantity: l.Quantity})
	}
	return items
}

// TotalPrice returns Σ quantity × current catalog price.
func (c *Cart) TotalPrice(catalog product.Finder) decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Lines(catalog) {
		total = total.Add(item.Subtotal())
	}
	return total
}

// FormatPrice renders an amount with exactly two fractional digits.
func FormatPrice(d decimal.Decimal) string {
	return d.StringFixed(2)
}
