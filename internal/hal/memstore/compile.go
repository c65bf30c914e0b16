package memstore

import (
	"fmt"
	"math"

	"github.com/drblury/haltalk/internal/hal"
)

type watchItem struct {
	pin      *pin
	signal   *signal
	epsilon  float64
	last     hal.Value
	reported bool
}

func (w *watchItem) member() hal.Member {
	if w.pin != nil {
		return hal.Member{
			Kind:   hal.ItemPin,
			Handle: w.pin.handle,
			Name:   w.pin.name,
			Type:   w.pin.typ,
			Dir:    w.pin.dir,
			Value:  w.pin.current(),
		}
	}
	return hal.Member{
		Kind:   hal.ItemSignal,
		Handle: w.signal.handle,
		Name:   w.signal.name,
		Type:   w.signal.typ,
		Value:  w.signal.value,
	}
}

func (w *watchItem) changed(v hal.Value) bool {
	if !w.reported {
		return true
	}
	if v.Type == hal.TypeFloat && w.epsilon > 0 {
		return math.Abs(v.Float-w.last.Float) > w.epsilon
	}
	return !v.Equal(w.last)
}

type watchList struct {
	name  string
	items []*watchItem
}

func (w *watchList) Name() string { return w.name }
func (w *watchList) Len() int     { return len(w.items) }

// CompileGroup resolves nested groups depth first and watches each member
// signal once. Cycles between groups are rejected.
func (s *Store) CompileGroup(name string) (hal.WatchList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CompileGroup"); err != nil {
		return nil, err
	}

	wl := &watchList{name: name}
	seen := make(map[string]bool)
	if err := s.flattenGroup(name, wl, seen, map[string]bool{}); err != nil {
		return nil, err
	}
	return wl, nil
}

func (s *Store) flattenGroup(name string, wl *watchList, seen, path map[string]bool) error {
	g, ok := s.groups[name]
	if !ok {
		return fmt.Errorf("%w: group %q", hal.ErrNotFound, name)
	}
	if path[name] {
		return fmt.Errorf("%w: group %q is nested in itself", hal.ErrInvalidSchema, name)
	}
	path[name] = true
	defer delete(path, name)

	for _, m := range g.Members {
		switch m.Kind {
		case hal.MemberGroup:
			if err := s.flattenGroup(m.Name, wl, seen, path); err != nil {
				return err
			}
		default:
			sig, ok := s.signals[m.Name]
			if !ok {
				return fmt.Errorf("%w: signal %q in group %q", hal.ErrNotFound, m.Name, name)
			}
			if seen[sig.name] {
				continue
			}
			seen[sig.name] = true
			wl.items = append(wl.items, &watchItem{signal: sig, epsilon: m.Epsilon})
		}
	}
	return nil
}

// CompileComponent watches every pin of a component in creation order.
func (s *Store) CompileComponent(name string) (hal.WatchList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CompileComponent"); err != nil {
		return nil, err
	}

	c, ok := s.components[name]
	if !ok {
		return nil, fmt.Errorf("%w: component %q", hal.ErrNotFound, name)
	}
	if c.state == hal.StateInitializing {
		return nil, fmt.Errorf("%w: component %q is still initializing", hal.ErrBadState, name)
	}
	wl := &watchList{name: name, items: make([]*watchItem, 0, len(c.pins))}
	for _, p := range c.pins {
		wl.items = append(wl.items, &watchItem{pin: p})
	}
	return wl, nil
}

// Report calls fn for each changed member, or for every member when all is
// true, and records the reported values as the new snapshot.
func (s *Store) Report(w hal.WatchList, all bool, fn func(hal.Member)) (int, error) {
	wl, ok := w.(*watchList)
	if !ok || wl == nil {
		return 0, fmt.Errorf("%w: foreign watch list %T", hal.ErrInvalidSchema, w)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reported := 0
	for _, item := range wl.items {
		if item.pin != nil && s.pinHandles[item.pin.handle] != item.pin {
			return reported, fmt.Errorf("%w: pin %q was deleted", hal.ErrNotFound, item.pin.name)
		}
		m := item.member()
		if !all && !item.changed(m.Value) {
			continue
		}
		item.last = m.Value
		item.reported = true
		reported++
		if fn != nil {
			fn(m)
		}
	}
	return reported, nil
}
