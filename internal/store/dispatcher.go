package store

import "sync"

// dispatcher fans out change notifications to per-user subscribers. A
// notification carries no payload; subscribers re-read the collection, so a
// single pending signal coalesces any number of writes.
type dispatcher struct {
	mu          sync.Mutex
	subscribers map[string]map[int64]chan struct{}
	nextID      int64
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		subscribers: make(map[string]map[int64]chan struct{}),
	}
}

func (d *dispatcher) subscribe(userID string) (int64, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]chan struct{})
	}
	signal := make(chan struct{}, 1)
	d.subscribers[userID][id] = signal
	return id, signal
}

func (d *dispatcher) unsubscribe(userID string, id int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}

func (d *dispatcher) publish(userID string) {
	if userID == "" {
		return
	}
	d.mu.Lock()
	signals := make([]chan struct{}, 0, len(d.subscribers[userID]))
	for _, signal := range d.subscribers[userID] {
		signals = append(signals, signal)
	}
	d.mu.Unlock()
	for _, signal := range signals {
		select {
		case signal <- struct{}{}:
		default:
		}
	}
}
