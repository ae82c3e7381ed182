// Package jsonfile reads the product catalog from a JSON document on disk.
package jsonfile

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/product"
)

var _ product.Source = Source{}

// Record is the on-disk shape of one product.
type Record struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	Image       string          `json:"image,omitempty"`
}

// Source reads a JSON array of products. Paths ending in .gz are
// decompressed first.
type Source struct {
	Path string
}

// List opens and decodes the catalog file.
func (s Source) List(_ context.Context) ([]product.Product, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(s.Path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return Decode(r)
}

// Decode parses a JSON array of products.
func Decode(r io.Reader) ([]product.Product, error) {
	dec := json.NewDecoder(r)

	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	if dec.More() {
		return nil, errors.New("decode catalog: trailing data after array")
	}

	products := make([]product.Product, len(records))
	for i, rec := range records {
		products[i] = product.Product{
			ID:          rec.ID,
			Name:        rec.Name,
			Price:       rec.Price,
			Description: rec.Description,
			Image:       rec.Image,
		}
	}
	return products, nil
}
