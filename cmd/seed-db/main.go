// Command seed-db populates a development database with product variants and
// a demo cart so a checkout can be exercised end to end.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solecraft/checkout-service/internal/domain/cart"
	"github.com/solecraft/checkout-service/internal/domain/inventory"
	"github.com/solecraft/checkout-service/internal/storage/postgres"
)

var sizes = []string{"S", "M", "L", "XL"}

func main() {
	var (
		databaseURL string
		userID      string
		products    int
		seed        uint64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&userID, "user-id", "demo-user", "user to seed a cart for")
	flag.IntVar(&products, "products", 20, "number of product variants to generate")
	flag.Uint64Var(&seed, "seed", 0, "faker seed (0 = random)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, userID, products, seed); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, userID string, products int, seed uint64) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	faker := gofakeit.New(seed)
	variants := postgres.NewVariantRepository(pool)
	carts := postgres.NewCartRepository(pool)

	items, err := seedVariants(ctx, faker, variants, products)
	if err != nil {
		return errors.Wrap(err, "seed variants")
	}

	if err := seedCart(ctx, faker, carts, userID, items); err != nil {
		return errors.Wrap(err, "seed cart")
	}

	return nil
}

// seedVariants generates products and stocks them via increment adjustments,
// returning cart-shaped items for the demo cart.
func seedVariants(ctx context.Context, faker *gofakeit.Faker, variants *postgres.VariantRepository, count int) ([]cart.Item, error) {
	slog.Info("seeding product variants", slog.Int("count", count))

	items := make([]cart.Item, 0, count)
	for range count {
		item := cart.Item{
			ProductID:   uuid.New().String(),
			Description: faker.ProductName(),
			Color:       faker.Color(),
			Size:        sizes[faker.Number(0, len(sizes)-1)],
			Quantity:    faker.Number(1, 3),
			Price:       decimal.NewFromFloat(faker.Price(5, 200)).Round(2),
		}

		err := variants.Apply(ctx, []inventory.Adjustment{{
			ProductID: item.ProductID,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  faker.Number(10, 100),
			Direction: inventory.Increment,
		}})
		if err != nil {
			return nil, errors.Wrapf(err, "stock variant %s", item.ProductID)
		}

		items = append(items, item)
	}

	return items, nil
}

// seedCart fills the demo user's cart with a few of the generated products.
func seedCart(ctx context.Context, faker *gofakeit.Faker, carts *postgres.CartRepository, userID string, items []cart.Item) error {
	n := faker.Number(1, 4)
	if n > len(items) {
		n = len(items)
	}

	slog.Info("seeding cart", slog.String("user_id", userID), slog.Int("items", n))

	if err := carts.Upsert(ctx, userID, items[:n]); err != nil {
		return errors.Wrapf(err, "upsert cart for %s", userID)
	}
	return nil
}
