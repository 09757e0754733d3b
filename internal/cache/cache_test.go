package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prospectlabs/prospect/backend/internal/products"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	stagingCache, err := New(Config{Client: client, Namespace: "prospect-test"})
	if err != nil {
		t.Fatalf("failed to construct cache: %v", err)
	}
	return stagingCache
}

func TestLoadMissingSlot(t *testing.T) {
	stagingCache := newTestCache(t)

	staged, err := stagingCache.Load(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("expected empty sequence, got %d products", len(staged))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	stagingCache := newTestCache(t)
	ctx := context.Background()

	widget := products.NewProduct("prod-1", 100)
	widget.Name = "Widget"
	if err := stagingCache.Save(ctx, "user-1", []products.Product{widget}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staged, err := stagingCache.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("expected 1 product, got %d", len(staged))
	}
	if staged[0].ID != "prod-1" || staged[0].Name != "Widget" {
		t.Fatalf("unexpected product: %#v", staged[0])
	}
	if len(staged[0].Competitors) != 3 {
		t.Fatalf("expected competitor slots to survive the round trip, got %d", len(staged[0].Competitors))
	}
}

func TestClearEmptiesSlot(t *testing.T) {
	stagingCache := newTestCache(t)
	ctx := context.Background()

	if err := stagingCache.Save(ctx, "user-1", []products.Product{products.NewProduct("prod-1", 100)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stagingCache.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staged, err := stagingCache.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("expected cleared slot, got %d products", len(staged))
	}
}

func TestSlotsAreScopedByUser(t *testing.T) {
	stagingCache := newTestCache(t)
	ctx := context.Background()

	if err := stagingCache.Save(ctx, "user-1", []products.Product{products.NewProduct("prod-1", 100)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staged, err := stagingCache.Load(ctx, "user-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("expected another user's slot to be empty, got %d products", len(staged))
	}
}
