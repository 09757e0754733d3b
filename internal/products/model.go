package products

import (
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the research verdict for a tracked product.
type Status string

const (
	// StatusPending marks a product still under evaluation.
	StatusPending Status = "Pending"
	// StatusApproved marks a product cleared for testing.
	StatusApproved Status = "Approved"
	// StatusRejected marks a product ruled out.
	StatusRejected Status = "Rejected"
)

// Valid reports whether the status is one of the known variants.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

const (
	maxIdentifierLength = 190
	competitorSlots     = 3
)

var (
	// ErrInvalidProductID indicates that a product identifier is empty or exceeds storage bounds.
	ErrInvalidProductID = errors.New("products: invalid product id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("products: invalid user id")
	// ErrUnknownField indicates a field name outside the updatable set.
	ErrUnknownField = errors.New("products: unknown field")
	// ErrInvalidFieldValue indicates a value whose type or variant does not fit the field.
	ErrInvalidFieldValue = errors.New("products: invalid field value")
)

// ProductID represents a validated product identifier.
type ProductID string

// NewProductID validates raw input and returns a ProductID.
func NewProductID(rawInput string) (ProductID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidProductID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidProductID, maxIdentifierLength)
	}
	return ProductID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ProductID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Competitor captures one observed competitor for a product. Competitors
// have no identity of their own; they are addressed by position within the
// owning product.
type Competitor struct {
	Brand     string `json:"brand"`
	AdLink    string `json:"adLink"`
	StoreLink string `json:"storeLink"`
	AdsCount  string `json:"adsCount"`
	Traffic   string `json:"traffic"`
}

// Link is a research reference attached to a product, addressed by its own id.
type Link struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Product is one tracked research record. Numeric inputs (cogs, price and
// the competitor counters) stay as entered text; margin and ROAS are always
// recomputed, never stored.
type Product struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Status        Status       `json:"status"`
	Cogs          string       `json:"cogs"`
	Price         string       `json:"price"`
	ValueProp     string       `json:"valueProp"`
	TargetMarket  string       `json:"targetMarket"`
	SupplierLink  string       `json:"supplierLink"`
	PersonalNotes string       `json:"personalNotes"`
	InternalNotes string       `json:"internalNotes"`
	HasContent    bool         `json:"hasContent"`
	Competitors   []Competitor `json:"competitors"`
	OtherLinks    []Link       `json:"otherLinks"`
	CreatedAtMS   int64        `json:"createdAt"`
}

// NewProduct builds a fully defaulted record: empty text fields, status
// Pending, three blank competitor slots, no links.
func NewProduct(id string, createdAtMS int64) Product {
	return Product{
		ID:          id,
		Status:      StatusPending,
		Competitors: make([]Competitor, competitorSlots),
		OtherLinks:  []Link{},
		CreatedAtMS: createdAtMS,
	}
}

// Updatable field names, matching the document payload keys.
const (
	FieldName          = "name"
	FieldStatus        = "status"
	FieldCogs          = "cogs"
	FieldPrice         = "price"
	FieldValueProp     = "valueProp"
	FieldTargetMarket  = "targetMarket"
	FieldSupplierLink  = "supplierLink"
	FieldPersonalNotes = "personalNotes"
	FieldInternalNotes = "internalNotes"
	FieldHasContent    = "hasContent"
)

var updatableFields = map[string]struct{}{
	FieldName:          {},
	FieldStatus:        {},
	FieldCogs:          {},
	FieldPrice:         {},
	FieldValueProp:     {},
	FieldTargetMarket:  {},
	FieldSupplierLink:  {},
	FieldPersonalNotes: {},
	FieldInternalNotes: {},
	FieldHasContent:    {},
}

// ValidateField ensures the provided name addresses a directly updatable
// scalar field. Competitor and link sequences have dedicated operations.
func ValidateField(name string) error {
	if _, ok := updatableFields[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return nil
}

// ValidateFieldValue ensures the field is updatable and the value carries
// the shape its document slot expects: a boolean for hasContent, a known
// status variant for status, text for everything else. A mistyped value
// would poison the stored payload and make the record undecodable.
func ValidateFieldValue(field string, value any) error {
	if err := ValidateField(field); err != nil {
		return err
	}
	switch field {
	case FieldHasContent:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %s requires a boolean", ErrInvalidFieldValue, field)
		}
	case FieldStatus:
		text, ok := value.(string)
		if !ok || !Status(text).Valid() {
			return fmt.Errorf("%w: %s must be Pending, Approved or Rejected", ErrInvalidFieldValue, field)
		}
	default:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %s requires text", ErrInvalidFieldValue, field)
		}
	}
	return nil
}

// Competitor field names, matching the embedded payload keys.
const (
	CompetitorFieldBrand     = "brand"
	CompetitorFieldAdLink    = "adLink"
	CompetitorFieldStoreLink = "storeLink"
	CompetitorFieldAdsCount  = "adsCount"
	CompetitorFieldTraffic   = "traffic"
)

// SetCompetitorField returns a copy of the competitor with only the named
// field replaced.
func SetCompetitorField(competitor Competitor, field, value string) (Competitor, error) {
	switch field {
	case CompetitorFieldBrand:
		competitor.Brand = value
	case CompetitorFieldAdLink:
		competitor.AdLink = value
	case CompetitorFieldStoreLink:
		competitor.StoreLink = value
	case CompetitorFieldAdsCount:
		competitor.AdsCount = value
	case CompetitorFieldTraffic:
		competitor.Traffic = value
	default:
		return Competitor{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return competitor, nil
}

// Link field names, matching the embedded payload keys.
const (
	LinkFieldTitle = "title"
	LinkFieldURL   = "url"
)

// SetLinkField returns a copy of the link with only the named field replaced.
func SetLinkField(link Link, field, value string) (Link, error) {
	switch field {
	case LinkFieldTitle:
		link.Title = value
	case LinkFieldURL:
		link.URL = value
	default:
		return Link{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return link, nil
}
