package engine

import (
	"fmt"

	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	"github.com/drblury/haltalk/internal/runtime/logging"
)

// GroupEngine tracks every group found in the store and scans the ones that
// have subscribers.
type GroupEngine struct {
	scanner
	topics map[string]*topic
}

// Discover compiles and registers groups the engine has not seen yet. Known
// groups are never recompiled. A group that fails to compile is logged and
// retried on the next call.
func (g *GroupEngine) Discover() {
	for _, grp := range g.store.Groups() {
		if _, ok := g.topics[grp.Name]; ok {
			continue
		}
		wl, err := g.store.CompileGroup(grp.Name)
		if err != nil {
			g.logger.Error("group compile failed", err, logging.LogFields{"group": grp.Name})
			continue
		}
		g.topics[grp.Name] = &topic{
			name:     grp.Name,
			watch:    wl,
			interval: g.intervalFor(grp.ScanInterval),
		}
		g.logger.Debug("group discovered", logging.LogFields{"group": grp.Name, "members": wl.Len()})
	}
}

func (g *GroupEngine) lookup(name string) (*topic, bool) {
	if t, ok := g.topics[name]; ok {
		return t, true
	}
	g.Discover()
	t, ok := g.topics[name]
	return t, ok
}

// Activate starts the scan timer of a group.
func (g *GroupEngine) Activate(name string) error {
	t, ok := g.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", errspkg.ErrNoSuchGroup, name)
	}
	g.start(t, func() { g.OnTick(name) })
	return nil
}

// Deactivate stops the scan timer of a group.
func (g *GroupEngine) Deactivate(name string) error {
	t, ok := g.topics[name]
	if !ok {
		return fmt.Errorf("%w: %q", errspkg.ErrNoSuchGroup, name)
	}
	g.stop(t)
	return nil
}

// OnTick publishes an incremental update when any member changed.
func (g *GroupEngine) OnTick(name string) {
	t, ok := g.topics[name]
	if !ok {
		return
	}
	if err := g.report(t, false); err != nil {
		g.logger.Error("group scan failed", err, logging.LogFields{"group": name})
		g.stop(t)
		g.fail(name, fmt.Sprintf("scan of group '%s' failed: %v", name, err))
	}
}

// OnSubscribe publishes a full update.
func (g *GroupEngine) OnSubscribe(name string) error {
	t, ok := g.lookup(name)
	if !ok {
		g.unknown("group", name, g.Names())
		return fmt.Errorf("%w: %q", errspkg.ErrNoSuchGroup, name)
	}
	return g.report(t, true)
}

// Subscribe sends every subscriber a full update and makes sure the group is
// scanned, which also restarts a timer a failed scan stopped. When the full
// update for the first subscriber cannot be sent the group is deactivated
// again, since the caller forgets that subscriber.
func (g *GroupEngine) Subscribe(name string, first bool) error {
	t, ok := g.lookup(name)
	if !ok {
		g.unknown("group", name, g.Names())
		return fmt.Errorf("%w: %q", errspkg.ErrNoSuchGroup, name)
	}
	if !t.active {
		g.start(t, func() { g.OnTick(name) })
	}
	if err := g.report(t, true); err != nil {
		if first {
			g.stop(t)
		}
		return err
	}
	return nil
}

// Unsubscribe deactivates the group after its last subscriber left.
func (g *GroupEngine) Unsubscribe(name string) error {
	return g.Deactivate(name)
}

// Names lists the known groups.
func (g *GroupEngine) Names() []string { return sortedKeys(g.topics) }

// Serial returns the last serial sent for a group.
func (g *GroupEngine) Serial(name string) uint64 {
	if t, ok := g.topics[name]; ok {
		return t.serial
	}
	return 0
}

// Active reports whether the group is being scanned.
func (g *GroupEngine) Active(name string) bool {
	t, ok := g.topics[name]
	return ok && t.active
}

func (g *GroupEngine) activeNames() []string {
	var names []string
	for _, name := range g.Names() {
		if g.topics[name].active {
			names = append(names, name)
		}
	}
	return names
}
