package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prospectlabs/prospect/backend/internal/products"
	"github.com/prospectlabs/prospect/backend/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrUnknownProduct indicates the addressed product is not in the projection.
	ErrUnknownProduct = errors.New("tracker: unknown product")
	// ErrUnknownLink indicates the addressed link id is not on the product.
	ErrUnknownLink = errors.New("tracker: unknown link")
	// ErrCompetitorIndex indicates a competitor position outside the sequence.
	ErrCompetitorIndex = errors.New("tracker: competitor index out of range")

	errMissingEngine     = errors.New("tracker: engine is required")
	errMissingIDProvider = errors.New("tracker: id provider is required")
)

// GatewayConfig describes the dependencies of the mutation gateway.
type GatewayConfig struct {
	Engine     *Engine
	Store      *store.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Gateway applies merge-writes against the document store on behalf of the
// active session. The projection is never mutated directly; it catches up
// from the snapshot the write triggers. Sequence fields (competitors,
// otherLinks) are recomputed from the local projection and written whole,
// so concurrent edits to the same sequence are last-writer-wins.
type Gateway struct {
	engine *Engine
	store  *store.Store
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewGateway constructs a Gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Gateway{
		engine: cfg.Engine,
		store:  cfg.Store,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
	}, nil
}

// CreateProduct writes a fully defaulted record under a fresh id, selects
// it, and returns the id so the caller can surface it immediately.
func (g *Gateway) CreateProduct(ctx context.Context) (string, error) {
	session := g.engine.ActiveSession()
	if session == nil {
		return "", ErrNoSession
	}

	productID, err := g.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("tracker: id generation failed: %w", err)
	}

	product := products.NewProduct(productID, g.clock().UTC().UnixMilli())
	fields, err := documentFields(product)
	if err != nil {
		return "", fmt.Errorf("tracker: product encode failed: %w", err)
	}
	if err := g.store.MergeWrite(ctx, session.userID, productID, fields); err != nil {
		g.logWriteError("create", session.userID, productID, err)
		return "", err
	}

	session.Select(productID)
	return productID, nil
}

// UpdateField merge-writes a single scalar field of a product.
func (g *Gateway) UpdateField(ctx context.Context, rawProductID, field string, value any) error {
	session := g.engine.ActiveSession()
	if session == nil {
		return ErrNoSession
	}
	validatedID, err := products.NewProductID(rawProductID)
	if err != nil {
		return err
	}
	productID := validatedID.String()
	if err := products.ValidateFieldValue(field, value); err != nil {
		return err
	}

	if err := g.store.MergeWrite(ctx, session.userID, productID, map[string]any{field: value}); err != nil {
		g.logWriteError("update_field", session.userID, productID, err)
		return err
	}
	return nil
}

// UpdateCompetitorField replaces one field of the competitor at the given
// position, writing the whole sequence back. All other positions are
// carried over byte for byte from the projection.
func (g *Gateway) UpdateCompetitorField(ctx context.Context, productID string, index int, field, value string) error {
	session := g.engine.ActiveSession()
	if session == nil {
		return ErrNoSession
	}

	product, ok := session.Find(productID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	if index < 0 || index >= len(product.Competitors) {
		return fmt.Errorf("%w: %d", ErrCompetitorIndex, index)
	}

	updated := make([]products.Competitor, len(product.Competitors))
	copy(updated, product.Competitors)
	replacement, err := products.SetCompetitorField(updated[index], field, value)
	if err != nil {
		return err
	}
	updated[index] = replacement

	if err := g.store.MergeWrite(ctx, session.userID, productID, map[string]any{"competitors": updated}); err != nil {
		g.logWriteError("update_competitor", session.userID, productID, err)
		return err
	}
	return nil
}

// AddLink appends an empty link with a fresh id to the product's link
// sequence and returns the new id.
func (g *Gateway) AddLink(ctx context.Context, productID string) (string, error) {
	session := g.engine.ActiveSession()
	if session == nil {
		return "", ErrNoSession
	}

	product, ok := session.Find(productID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	linkID, err := g.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("tracker: id generation failed: %w", err)
	}

	updated := make([]products.Link, len(product.OtherLinks), len(product.OtherLinks)+1)
	copy(updated, product.OtherLinks)
	updated = append(updated, products.Link{ID: linkID})

	if err := g.store.MergeWrite(ctx, session.userID, productID, map[string]any{"otherLinks": updated}); err != nil {
		g.logWriteError("add_link", session.userID, productID, err)
		return "", err
	}
	return linkID, nil
}

// UpdateLinkField replaces one field of the link with the given id, leaving
// every other link untouched.
func (g *Gateway) UpdateLinkField(ctx context.Context, productID, linkID, field, value string) error {
	session := g.engine.ActiveSession()
	if session == nil {
		return ErrNoSession
	}

	product, ok := session.Find(productID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	updated := make([]products.Link, len(product.OtherLinks))
	copy(updated, product.OtherLinks)
	found := false
	for index, link := range updated {
		if link.ID != linkID {
			continue
		}
		replacement, err := products.SetLinkField(link, field, value)
		if err != nil {
			return err
		}
		updated[index] = replacement
		found = true
		break
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownLink, linkID)
	}

	if err := g.store.MergeWrite(ctx, session.userID, productID, map[string]any{"otherLinks": updated}); err != nil {
		g.logWriteError("update_link", session.userID, productID, err)
		return err
	}
	return nil
}

// DeleteLink filters the link with the given id out of the sequence,
// preserving the order and identity of the rest.
func (g *Gateway) DeleteLink(ctx context.Context, productID, linkID string) error {
	session := g.engine.ActiveSession()
	if session == nil {
		return ErrNoSession
	}

	product, ok := session.Find(productID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	updated := make([]products.Link, 0, len(product.OtherLinks))
	for _, link := range product.OtherLinks {
		if link.ID == linkID {
			continue
		}
		updated = append(updated, link)
	}

	if err := g.store.MergeWrite(ctx, session.userID, productID, map[string]any{"otherLinks": updated}); err != nil {
		g.logWriteError("delete_link", session.userID, productID, err)
		return err
	}
	return nil
}

// DeleteProduct removes the remote document and clears the selection when
// it pointed at the deleted product.
func (g *Gateway) DeleteProduct(ctx context.Context, rawProductID string) error {
	session := g.engine.ActiveSession()
	if session == nil {
		return ErrNoSession
	}
	validatedID, err := products.NewProductID(rawProductID)
	if err != nil {
		return err
	}
	productID := validatedID.String()

	if err := g.store.Delete(ctx, session.userID, productID); err != nil {
		g.logWriteError("delete", session.userID, productID, err)
		return err
	}

	if session.Selected() == productID {
		session.ClearSelection()
	}
	return nil
}

func (g *Gateway) logWriteError(operation, userID, productID string, err error) {
	g.logger.Error("product write failed",
		zap.String("operation", operation),
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Error(err))
}
