package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	errMissingDocID    = errors.New("document identifier is required")
	errEmptyFields     = errors.New("merge payload is empty")
	noOpLogger         = zap.NewNop()
)

// StoreError carries an operation.reason code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew   = "store.new"
	opMergeWrite = "store.merge_write"
	opDelete     = "store.delete"
	opList       = "store.list"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Config describes the dependencies required by the document store.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists per-user product documents and fans out change
// notifications to live subscribers.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	logger     *zap.Logger
	dispatcher *dispatcher
}

// New constructs a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		logger:     logger,
		dispatcher: newDispatcher(),
	}, nil
}

// MergeWrite updates only the provided fields of the addressed document,
// creating the document when it does not exist. Fields absent from the
// payload are left untouched.
func (s *Store) MergeWrite(ctx context.Context, userID, docID string, fields map[string]any) error {
	if userID == "" {
		return newStoreError(opMergeWrite, "missing_user_id", errMissingUserID)
	}
	if docID == "" {
		return newStoreError(opMergeWrite, "missing_doc_id", errMissingDocID)
	}
	if len(fields) == 0 {
		return newStoreError(opMergeWrite, "empty_payload", errEmptyFields)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND doc_id = ?", userID, docID).
			Take(&existing).Error

		now := s.clock().UTC().Unix()
		merged := make(map[string]any, len(fields))
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			existing = Document{UserID: userID, DocID: docID, CreatedAtSeconds: now}
		case err != nil:
			return newStoreError(opMergeWrite, "doc_select_failed", err)
		default:
			if unmarshalErr := json.Unmarshal([]byte(existing.PayloadJSON), &merged); unmarshalErr != nil {
				return newStoreError(opMergeWrite, "payload_decode_failed", unmarshalErr)
			}
		}

		for field, value := range fields {
			merged[field] = value
		}
		payload, marshalErr := json.Marshal(merged)
		if marshalErr != nil {
			return newStoreError(opMergeWrite, "payload_encode_failed", marshalErr)
		}
		existing.PayloadJSON = string(payload)
		existing.UpdatedAtSeconds = now

		if saveErr := tx.Save(&existing).Error; saveErr != nil {
			return newStoreError(opMergeWrite, "doc_save_failed", saveErr)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opMergeWrite, txErr, userID, docID)
		return txErr
	}

	s.dispatcher.publish(userID)
	return nil
}

// Delete removes the addressed document. Deleting a missing document is not
// an error.
func (s *Store) Delete(ctx context.Context, userID, docID string) error {
	if userID == "" {
		return newStoreError(opDelete, "missing_user_id", errMissingUserID)
	}
	if docID == "" {
		return newStoreError(opDelete, "missing_doc_id", errMissingDocID)
	}

	err := s.db.WithContext(ctx).
		Where("user_id = ? AND doc_id = ?", userID, docID).
		Delete(&Document{}).Error
	if err != nil {
		wrapped := newStoreError(opDelete, "doc_delete_failed", err)
		s.logError(opDelete, wrapped, userID, docID)
		return wrapped
	}

	s.dispatcher.publish(userID)
	return nil
}

// List returns every document in the user's collection.
func (s *Store) List(ctx context.Context, userID string) ([]Document, error) {
	if userID == "" {
		return nil, newStoreError(opList, "missing_user_id", errMissingUserID)
	}

	var documents []Document
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&documents).Error; err != nil {
		wrapped := newStoreError(opList, "query_failed", err)
		s.logError(opList, wrapped, userID, "")
		return nil, wrapped
	}
	return documents, nil
}

// SnapshotFunc receives a full point-in-time read of a user's collection.
type SnapshotFunc func(documents []Document)

// ErrorFunc receives the error that terminated a live subscription.
type ErrorFunc func(err error)

// Subscribe delivers the current collection immediately and a fresh full
// snapshot after every subsequent write or delete for the user. A failed
// collection read reports through onError and ends the subscription. The
// returned cancel function is idempotent and also triggered by ctx.
func (s *Store) Subscribe(ctx context.Context, userID string, onSnapshot SnapshotFunc, onError ErrorFunc) (func(), error) {
	if userID == "" {
		return nil, newStoreError(opList, "missing_user_id", errMissingUserID)
	}
	if onSnapshot == nil {
		return nil, newStoreError(opList, "missing_snapshot_callback", errors.New("snapshot callback is required"))
	}

	subscriptionCtx, cancel := context.WithCancel(ctx)
	subscriberID, signal := s.dispatcher.subscribe(userID)
	teardown := func() {
		s.dispatcher.unsubscribe(userID, subscriberID)
		cancel()
	}

	go func() {
		defer teardown()
		for {
			documents, err := s.List(subscriptionCtx, userID)
			if err != nil {
				if subscriptionCtx.Err() == nil && onError != nil {
					onError(err)
				}
				return
			}
			select {
			case <-subscriptionCtx.Done():
				return
			default:
			}
			onSnapshot(documents)

			select {
			case <-subscriptionCtx.Done():
				return
			case <-signal:
			}
		}
	}()

	return teardown, nil
}

func (s *Store) logError(operation string, err error, userID, docID string) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	if userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	if docID != "" {
		fields = append(fields, zap.String("doc_id", docID))
	}
	s.logger.Error("document store error", fields...)
}
