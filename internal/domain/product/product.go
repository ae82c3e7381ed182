package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID          int64
	Name        string
	Price       decimal.Decimal
	Description string
	Image       string
}

// Finder resolves product IDs against a catalog.
type Finder interface {
	Find(id int64) (Product, bool)
}

// Source provides the raw product list the catalog is built from.
type Source interface {
	List(ctx context.Context) ([]Product, error)
}

// LoadError is returned when the catalog cannot be built from its source.
// It is fatal at startup.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load catalog from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Catalog is the immutable, process-wide product list. It is safe for
// concurrent reads.
type Catalog struct {
	products []Product
	byID     map[int64]int
}

var _ Finder = (*Catalog)(nil)

// NewCatalog validates products and indexes them by ID.
func NewCatalog(products []Product) (*Catalog, error) {
	c := &Catalog{
		products: make([]Product, len(products)),
		byID:     make(map[int64]int, len(products)),
	}
	copy(c.products, products)

	for i, p := range c.products {
		switch {
		case p.ID <= 0:
			return nil, errors.Errorf("product #%d: id must be positive, got %d", i, p.ID)
		case p.Name == "":
			return nil, errors.Errorf("product %d: name is required", p.ID)
		case p.Price.IsNegative():
			return nil, errors.Errorf("product %d: negative price %s", p.ID, p.Price)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, errors.Errorf("duplicate product id %d", p.ID)
		}
		c.byID[p.ID] = i
	}
	return c, nil
}

// Load reads products from src and builds the catalog. Any failure is
// reported as a *LoadError named after name.
func Load(ctx context.Context, name string, src Source) (*Catalog, error) {
	products, err := src.List(ctx)
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}
	c, err := NewCatalog(products)
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}
	return c, nil
}

// Find returns the product with the given ID.
func (c *Catalog) Find(id int64) (Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Product{}, false
	}
	return c.products[i], true
}

// List returns all products in source order. The returned slice is a copy.
func (c *Catalog) List() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// Len reports the number of products in the catalog.
func (c *Catalog) Len() int { return len(c.products) }
