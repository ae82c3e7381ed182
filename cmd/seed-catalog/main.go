// Command seed-catalog loads one or more JSON catalog files into the
// PostgreSQL products table used by the postgres catalog source.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/storage/jsonfile"
	"github.com/xenking/kart-storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		files       string
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&files, "files", "product.json", "comma-separated catalog files, .gz files are decompressed")
	flag.BoolVar(&dryRun, "dry-run", false, "validate the files without writing to the database")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, splitFiles(files), dryRun); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func splitFiles(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, dryRun bool) error {
	if len(files) == 0 {
		return errors.New("no catalog files given")
	}

	products, err := readAll(ctx, lg, files)
	if err != nil {
		return err
	}
	// Validates the merged set: ids stay unique across files.
	catalog, err := product.NewCatalog(products)
	if err != nil {
		return errors.Wrap(err, "validate catalog")
	}
	if dryRun {
		lg.Info("Dry run, nothing written", zap.Int("products", catalog.Len()))
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewProductRepository(pool).Upsert(ctx, catalog.List()); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	lg.Info("Products upserted", zap.Int("count", catalog.Len()))
	return nil
}

// readAll decodes the files concurrently and concatenates them in argument
// order.
func readAll(ctx context.Context, lg *zap.Logger, files []string) ([]product.Product, error) {
	parts := make([][]product.Product, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			ps, err := jsonfile.Source{Path: path}.List(ctx)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("Catalog file read", zap.String("path", path), zap.Int("products", len(ps)))
			parts[i] = ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []product.Product
	for _, ps := range parts {
		out = append(out, ps...)
	}
	return out, nil
}
