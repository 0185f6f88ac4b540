package modesfilter

import (
	"sync"

	"github.com/beastsplitter/beastsplitter/internal/modesmessage"
)

// ClientHandle identifies a client registered with a Distributor.
type ClientHandle uint64

// Distributor fans decoded messages out to multiple downstream consumers,
// each with its own Filter, and reports the combination of all client
// filters to an upstream notifier (used to drive what the engine itself
// asks the receiver for). Ported from FilterDistributor in
// original_source/modes_filter.{h,cc}; the mutex replaces the
// single-threaded io_service assumption since monitor clients come and go
// from their own goroutines.
type Distributor struct {
	mu             sync.Mutex
	nextHandle     ClientHandle
	clients        map[ClientHandle]*client
	filterNotifier func(Filter)
}

type client struct {
	notify func(modesmessage.Record)
	filter Filter
}

// NewDistributor creates an empty Distributor.
func NewDistributor() *Distributor {
	return &Distributor{clients: make(map[ClientHandle]*client)}
}

// SetFilterNotifier registers a callback invoked with the combined filter
// of all currently registered clients whenever that combination changes.
func (d *Distributor) SetFilterNotifier(f func(Filter)) {
	d.mu.Lock()
	d.filterNotifier = f
	d.mu.Unlock()
}

// AddClient registers a new downstream consumer and returns its handle.
func (d *Distributor) AddClient(notify func(modesmessage.Record), initial Filter) ClientHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.nextHandle
	d.nextHandle++
	d.clients[h] = &client{notify: notify, filter: initial}
	d.updateUpstreamFilterLocked()
	return h
}

// UpdateClientFilter replaces a registered client's filter.
func (d *Distributor) UpdateClientFilter(h ClientHandle, newFilter Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.clients[h]
	if !ok || c.filter.Equal(newFilter) {
		return
	}
	c.filter = newFilter
	d.updateUpstreamFilterLocked()
}

// RemoveClient unregisters a client.
func (d *Distributor) RemoveClient(h ClientHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.clients[h]; !ok {
		return
	}
	delete(d.clients, h)
	d.updateUpstreamFilterLocked()
}

// Broadcast delivers the record to every client whose filter accepts it.
func (d *Distributor) Broadcast(r modesmessage.Record, badCRC bool) {
	d.mu.Lock()
	notifiees := make([]func(modesmessage.Record), 0, len(d.clients))
	for _, c := range d.clients {
		if c.filter.Matches(r, badCRC) {
			notifiees = append(notifiees, c.notify)
		}
	}
	d.mu.Unlock()

	for _, notify := range notifiees {
		notify(r)
	}
}

func (d *Distributor) updateUpstreamFilterLocked() {
	if d.filterNotifier == nil {
		return
	}
	var combined Filter
	for _, c := range d.clients {
		combined = Combine(combined, c.filter)
	}
	d.filterNotifier(combined)
}
