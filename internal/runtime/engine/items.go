package engine

import (
	"errors"
	"fmt"

	"github.com/drblury/haltalk/internal/hal"
)

var (
	errNoSuchItem = errors.New("no such item")
	errStale      = errors.New("stale handle")
	errWrongKind  = errors.New("wrong item kind")
)

// Item is a cached pin or signal, keyed by its handle. Only identity is
// cached; values are always read from the store.
type Item struct {
	Kind   hal.ItemKind
	Handle hal.Handle
	Name   string
	Type   hal.Type
	// Dir is the pin direction; zero for signals.
	Dir hal.Direction
}

// resolved is an Item together with a fresh store snapshot.
type resolved struct {
	Item
	pin    hal.Pin
	signal hal.Signal
}

func (r resolved) value() hal.Value {
	if r.Kind == hal.ItemPin {
		return r.pin.Value
	}
	return r.signal.Value
}

// ItemCache maps handles to pins and signals resolved earlier by name.
type ItemCache struct {
	store hal.Store
	items map[hal.Handle]Item
}

func NewItemCache(store hal.Store) *ItemCache {
	return &ItemCache{store: store, items: make(map[hal.Handle]Item)}
}

// Len is the number of cached items.
func (c *ItemCache) Len() int { return len(c.items) }

// Cached returns the cache entry for h without touching the store.
func (c *ItemCache) Cached(h hal.Handle) (Item, bool) {
	it, ok := c.items[h]
	return it, ok
}

// Lookup finds a handle of the wanted kind. A cached handle whose object is
// gone from the store is dropped and reported as stale. An uncached handle is
// looked up in the store and cached when found.
func (c *ItemCache) Lookup(kind hal.ItemKind, h hal.Handle) (resolved, error) {
	if it, ok := c.items[h]; ok {
		if it.Kind != kind {
			return resolved{}, fmt.Errorf("%w: handle %d is a %s", errWrongKind, h, it.Kind)
		}
		r, err := c.fetch(kind, h)
		if err != nil {
			delete(c.items, h)
			return resolved{}, fmt.Errorf("%w: %d", errStale, h)
		}
		return r, nil
	}
	r, err := c.fetch(kind, h)
	if err != nil {
		return resolved{}, err
	}
	c.items[h] = r.Item
	return r, nil
}

// Resolve finds an object by name. The name is resolved in the store before
// anything is cached, so a name that no longer exists never enters the cache.
func (c *ItemCache) Resolve(kind hal.ItemKind, name string) (resolved, error) {
	var r resolved
	switch kind {
	case hal.ItemPin:
		p, err := c.store.PinByName(name)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: %w", errNoSuchItem, err)
		}
		r = pinItem(p)
	default:
		s, err := c.store.SignalByName(name)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: %w", errNoSuchItem, err)
		}
		r = signalItem(s)
	}
	c.items[r.Handle] = r.Item
	return r, nil
}

// Insert caches a pin created by this process.
func (c *ItemCache) Insert(p hal.Pin) {
	c.items[p.Handle] = pinItem(p).Item
}

// Forget drops the given handles.
func (c *ItemCache) Forget(handles ...hal.Handle) {
	for _, h := range handles {
		delete(c.items, h)
	}
}

func (c *ItemCache) fetch(kind hal.ItemKind, h hal.Handle) (resolved, error) {
	switch kind {
	case hal.ItemPin:
		p, err := c.store.PinByHandle(h)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: %w", errNoSuchItem, err)
		}
		return pinItem(p), nil
	default:
		s, err := c.store.SignalByHandle(h)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: %w", errNoSuchItem, err)
		}
		return signalItem(s), nil
	}
}

func pinItem(p hal.Pin) resolved {
	return resolved{
		Item: Item{Kind: hal.ItemPin, Handle: p.Handle, Name: p.Name, Type: p.Type, Dir: p.Dir},
		pin:  p,
	}
}

func signalItem(s hal.Signal) resolved {
	return resolved{
		Item:   Item{Kind: hal.ItemSignal, Handle: s.Handle, Name: s.Name, Type: s.Type},
		signal: s,
	}
}
