package tracker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/prospectlabs/prospect/backend/internal/cache"
	"github.com/prospectlabs/prospect/backend/internal/products"
	"github.com/prospectlabs/prospect/backend/internal/store"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type testFixture struct {
	engine  *Engine
	gateway *Gateway
	store   *store.Store
	cache   *cache.Cache
	db      *gorm.DB
}

func newTestFixture(t *testing.T, ids []string) *testFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:prospect_tracker_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&store.Document{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	documentStore, err := store.New(store.Config{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000600, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	stagingCache, err := cache.New(cache.Config{Client: client, Namespace: "prospect-test"})
	if err != nil {
		t.Fatalf("failed to construct cache: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	engine, err := New(Config{
		Store: documentStore,
		Cache: stagingCache,
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}

	gateway, err := NewGateway(GatewayConfig{
		Engine:     engine,
		Store:      documentStore,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct gateway: %v", err)
	}

	return &testFixture{
		engine:  engine,
		gateway: gateway,
		store:   documentStore,
		cache:   stagingCache,
		db:      db,
	}
}

func startTestSession(t *testing.T, fixture *testFixture, userID string) *Session {
	t.Helper()
	session, err := fixture.engine.StartSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	t.Cleanup(fixture.engine.EndSession)
	waitForCondition(t, "initial snapshot", func() bool { return !session.Loading() })
	return session
}

func waitForCondition(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func waitForProduct(t *testing.T, session *Session, productID string, condition func(products.Product) bool) {
	t.Helper()
	waitForCondition(t, "product "+productID, func() bool {
		product, ok := session.Find(productID)
		return ok && condition(product)
	})
}
