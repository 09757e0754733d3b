package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prospectlabs/prospect/backend/internal/cache"
	"github.com/prospectlabs/prospect/backend/internal/products"
	"github.com/prospectlabs/prospect/backend/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrNoSession indicates a tracker operation without an active session.
	ErrNoSession = errors.New("tracker: no active session")

	errMissingStore = errors.New("tracker: document store is required")
	noOpLogger      = zap.NewNop()
)

// Config describes the dependencies of the sync engine.
type Config struct {
	Store  *store.Store
	Cache  *cache.Cache
	Clock  func() time.Time
	Logger *zap.Logger
}

// Engine subscribes one session at a time to a user's document collection
// and keeps that session's projection current. Starting a session for a new
// user cancels the previous subscription first, so no two subscriptions are
// ever live concurrently.
type Engine struct {
	store  *store.Store
	cache  *cache.Cache
	clock  func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	active *Session
}

// New constructs an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		store:  cfg.Store,
		cache:  cfg.Cache,
		clock:  clock,
		logger: logger,
	}, nil
}

// StartSession tears down any active session and subscribes the given user.
// The lock is held across the subscribe call so a concurrent start or stop
// can never observe a published session whose cancel is not yet in place.
func (e *Engine) StartSession(ctx context.Context, rawUserID string) (*Session, error) {
	validatedUserID, err := products.NewUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	userID := validatedUserID.String()

	session := newSession(userID)

	e.mu.Lock()
	previous := e.active
	if previous != nil && previous.cancelSubscription != nil {
		previous.cancelSubscription()
	}
	e.active = nil

	cancel, err := e.store.Subscribe(ctx, userID,
		func(documents []store.Document) {
			e.handleSnapshot(ctx, session, documents)
		},
		func(subscriptionErr error) {
			e.logger.Error("collection subscription failed",
				zap.String("user_id", userID),
				zap.Error(subscriptionErr))
			session.endLoading()
		},
	)
	if err != nil {
		e.mu.Unlock()
		if previous != nil {
			previous.notify()
		}
		return nil, err
	}
	session.cancelSubscription = cancel
	e.active = session
	e.mu.Unlock()

	// wake the replaced session's observers outside the lock so long-lived
	// consumers (streams) notice the replacement
	if previous != nil {
		previous.notify()
	}
	return session, nil
}

// EndSession cancels the active subscription, if any.
func (e *Engine) EndSession() {
	e.mu.Lock()
	session := e.active
	if session != nil && session.cancelSubscription != nil {
		session.cancelSubscription()
	}
	e.active = nil
	e.mu.Unlock()

	if session != nil {
		session.notify()
	}
}

// ActiveSession returns the current session, nil when none is active.
func (e *Engine) ActiveSession() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// SessionFor returns the active session when it belongs to the given user.
func (e *Engine) SessionFor(userID string) (*Session, error) {
	session := e.ActiveSession()
	if session == nil || session.userID != userID {
		return nil, ErrNoSession
	}
	return session, nil
}

// handleSnapshot runs on the subscription goroutine: it maps documents to
// product records, migrates staged records on the first empty snapshot, and
// replaces the projection wholesale.
func (e *Engine) handleSnapshot(ctx context.Context, session *Session, documents []store.Document) {
	collection := make([]products.Product, 0, len(documents))
	for _, document := range documents {
		var product products.Product
		if err := json.Unmarshal([]byte(document.PayloadJSON), &product); err != nil {
			e.logger.Warn("skipping undecodable product document",
				zap.String("user_id", session.userID),
				zap.String("doc_id", document.DocID),
				zap.Error(err))
			continue
		}
		// the storage key wins over any id inside the payload body
		product.ID = document.DocID
		collection = append(collection, product)
	}

	first := !session.firstSnapshotSeen
	session.firstSnapshotSeen = true
	if first && len(collection) == 0 {
		e.migrateStaged(ctx, session.userID)
	}

	products.SortByCreatedDesc(collection)
	session.replaceCollection(collection)
}

// migrateStaged performs the one-shot import of records staged before the
// account existed. All writes are awaited before the slot is cleared; the
// clear then happens unconditionally, so records whose write failed are
// dropped rather than retried.
func (e *Engine) migrateStaged(ctx context.Context, userID string) {
	if e.cache == nil {
		return
	}

	staged, err := e.cache.Load(ctx, userID)
	if err != nil {
		e.logger.Error("staged product load failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	if len(staged) == 0 {
		return
	}

	migrated := 0
	for _, product := range staged {
		if product.ID == "" {
			continue
		}
		fields, err := documentFields(product)
		if err != nil {
			e.logger.Error("staged product encode failed",
				zap.String("user_id", userID),
				zap.String("product_id", product.ID),
				zap.Error(err))
			continue
		}
		if err := e.store.MergeWrite(ctx, userID, product.ID, fields); err != nil {
			e.logger.Error("staged product write failed",
				zap.String("user_id", userID),
				zap.String("product_id", product.ID),
				zap.Error(err))
			continue
		}
		migrated++
	}

	if err := e.cache.Clear(ctx, userID); err != nil {
		e.logger.Error("staged slot clear failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	e.logger.Info("staged products migrated",
		zap.String("user_id", userID),
		zap.Int("staged", len(staged)),
		zap.Int("migrated", migrated))
}

// documentFields flattens a product record into the field map written to
// the document store.
func documentFields(product products.Product) (map[string]any, error) {
	payload, err := json.Marshal(product)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
