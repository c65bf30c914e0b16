// Package engine holds the broker state machine: the group and remote
// component engines, the item cache and the command handlers. A Registry is
// not safe for concurrent use; the service drives it from a single reactor
// goroutine.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/drblury/haltalk/internal/hal"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	"github.com/drblury/haltalk/internal/runtime/logging"
	"github.com/drblury/haltalk/internal/runtime/reactor"
	"github.com/drblury/haltalk/internal/wire"
)

// Channel names one of the two status channels.
type Channel string

const (
	ChannelGroup     Channel = "group"
	ChannelComponent Channel = "component"
)

// Publisher sends an envelope on a status topic.
type Publisher interface {
	Publish(ch Channel, topic string, env *wire.Envelope) error
}

// Timers schedules periodic callbacks on the reactor.
type Timers interface {
	AddTimer(interval time.Duration, fn func()) reactor.TimerID
	CancelTimer(id reactor.TimerID) bool
}

// Observer receives engine events for metrics.
type Observer interface {
	Broadcast(ch Channel, mt wire.MessageType)
	Request(mt wire.MessageType, result string)
	ActiveTopics(ch Channel, n int)
	ScanDuration(ch Channel, d time.Duration)
	CachedItems(n int)
}

type nopObserver struct{}

func (nopObserver) Broadcast(Channel, wire.MessageType) {}
func (nopObserver) Request(wire.MessageType, string)    {}
func (nopObserver) ActiveTopics(Channel, int)           {}
func (nopObserver) ScanDuration(Channel, time.Duration) {}
func (nopObserver) CachedItems(int)                     {}

// Options wires a Registry to its collaborators.
type Options struct {
	Store     hal.Store
	Publisher Publisher
	Timers    Timers
	Logger    logging.ServiceLogger
	Observer  Observer

	// UUID is the process identity stamped on every envelope.
	UUID string
	// PID is the owner recorded when acquiring remote components.
	PID int

	GroupScanInterval     time.Duration
	ComponentScanInterval time.Duration
}

// Registry owns every piece of broker state.
type Registry struct {
	store  hal.Store
	logger logging.ServiceLogger
	obs    Observer
	uuid   string
	pid    int

	Items      *ItemCache
	Groups     *GroupEngine
	Components *ComponentEngine

	commands map[wire.MessageType]commandFunc
}

// New validates the options and builds an empty registry. Call Discover to
// populate it from the store.
func New(opts Options) (*Registry, error) {
	if opts.Store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if opts.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if opts.Timers == nil {
		return nil, fmt.Errorf("engine: timers are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	r := &Registry{
		store:  opts.Store,
		logger: opts.Logger,
		obs:    opts.Observer,
		uuid:   opts.UUID,
		pid:    opts.PID,
		Items:  NewItemCache(opts.Store),
	}
	r.Groups = &GroupEngine{
		scanner: newScanner(opts, ChannelGroup, groupMessages, opts.GroupScanInterval),
		topics:  make(map[string]*topic),
	}
	r.Components = &ComponentEngine{
		scanner: newScanner(opts, ChannelComponent, componentMessages, opts.ComponentScanInterval),
		comps:   make(map[string]*rcomp),
		items:   r.Items,
		pid:     opts.PID,
		retired: make(map[string]uint64),
	}
	r.commands = r.commandTable()
	return r, nil
}

// UUID is the process identity.
func (r *Registry) UUID() string { return r.uuid }

// Store is the backing data store.
func (r *Registry) Store() hal.Store { return r.store }

// Discover registers groups and remote components that appeared in the store
// since the last call.
func (r *Registry) Discover() {
	r.Groups.Discover()
	r.Components.Discover()
}

// Subscribe handles a subscriber arriving on a status topic. first is true
// for the topic's first subscriber.
func (r *Registry) Subscribe(ch Channel, name string, first bool) error {
	if ch == ChannelComponent {
		return r.Components.Subscribe(name, first)
	}
	return r.Groups.Subscribe(name, first)
}

// Unsubscribe handles the last subscriber leaving a status topic.
func (r *Registry) Unsubscribe(ch Channel, name string) error {
	if ch == ChannelComponent {
		return r.Components.Unsubscribe(name)
	}
	return r.Groups.Unsubscribe(name)
}

// Keepalive sends a PING on every active topic so subscribers notice a dead
// broker. Serials are not touched.
func (r *Registry) Keepalive() {
	r.Groups.keepalive(r.Groups.activeNames())
	r.Components.keepalive(r.Components.activeNames())
}

// TopicStatus is a read-only view of one topic for introspection.
type TopicStatus struct {
	Channel  Channel       `json:"channel"`
	Name     string        `json:"name"`
	Active   bool          `json:"active"`
	Serial   uint64        `json:"serial"`
	Interval time.Duration `json:"interval"`
	Items    int           `json:"items"`
	State    string        `json:"state,omitempty"`
}

// Topics lists every known topic, groups first, each sorted by name.
func (r *Registry) Topics() []TopicStatus {
	var out []TopicStatus
	for _, name := range r.Groups.Names() {
		out = append(out, r.Groups.topics[name].status(ChannelGroup, ""))
	}
	for _, name := range r.Components.Names() {
		c := r.Components.comps[name]
		out = append(out, c.status(ChannelComponent, c.state.String()))
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
