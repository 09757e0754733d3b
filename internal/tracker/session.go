package tracker

import (
	"sync"

	"github.com/prospectlabs/prospect/backend/internal/products"
)

// Session is the in-memory projection of one authenticated user's product
// collection. The projection is never the source of truth: it is replaced
// wholesale by each collection snapshot and read by the filter, the
// mutation gateway and any registered observer.
type Session struct {
	userID string

	mu         sync.RWMutex
	collection []products.Product
	selectedID string
	loading    bool

	observerMu sync.Mutex
	observers  map[int64]func()
	nextID     int64

	// set once by the engine after the first snapshot, successful or not
	firstSnapshotSeen bool

	cancelSubscription func()
}

func newSession(userID string) *Session {
	return &Session{
		userID:    userID,
		loading:   true,
		observers: make(map[int64]func()),
	}
}

// UserID returns the owner of this session.
func (s *Session) UserID() string {
	return s.userID
}

// Loading reports whether the first snapshot (or a terminal subscription
// error) is still outstanding.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Collection returns the current projection in its sorted order.
func (s *Session) Collection() []products.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]products.Product, len(s.collection))
	copy(snapshot, s.collection)
	return snapshot
}

// Find returns the projected product with the given id.
func (s *Session) Find(productID string) (products.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, product := range s.collection {
		if product.ID == productID {
			return product, true
		}
	}
	return products.Product{}, false
}

// Filtered returns the projection narrowed by the query.
func (s *Session) Filtered(query string) []products.Product {
	return products.Filter(s.Collection(), query)
}

// Selected returns the currently selected product id, empty when none.
func (s *Session) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// Select records the product the user is inspecting.
func (s *Session) Select(productID string) {
	s.mu.Lock()
	s.selectedID = productID
	s.mu.Unlock()
	s.notify()
}

// ClearSelection drops any active selection.
func (s *Session) ClearSelection() {
	s.Select("")
}

// OnChange registers an observer invoked after every projection or
// selection change. The returned function unregisters it.
func (s *Session) OnChange(observer func()) func() {
	if observer == nil {
		return func() {}
	}
	s.observerMu.Lock()
	s.nextID++
	id := s.nextID
	s.observers[id] = observer
	s.observerMu.Unlock()
	return func() {
		s.observerMu.Lock()
		delete(s.observers, id)
		s.observerMu.Unlock()
	}
}

// replaceCollection swaps in a freshly mapped snapshot and ends the loading
// state.
func (s *Session) replaceCollection(collection []products.Product) {
	s.mu.Lock()
	s.collection = collection
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

// endLoading terminates the loading indicator without touching the
// projection, used when the subscription reports an error.
func (s *Session) endLoading() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.observerMu.Lock()
	observers := make([]func(), 0, len(s.observers))
	for _, observer := range s.observers {
		observers = append(observers, observer)
	}
	s.observerMu.Unlock()
	for _, observer := range observers {
		observer()
	}
}
