package engine

import (
	"strings"
	"time"

	"github.com/drblury/haltalk/internal/hal"
	"github.com/drblury/haltalk/internal/runtime/logging"
	"github.com/drblury/haltalk/internal/runtime/reactor"
	"github.com/drblury/haltalk/internal/wire"
)

type messageSet struct {
	full, incremental, failure wire.MessageType
}

var (
	groupMessages = messageSet{
		full:        wire.MTHalgroupFullUpdate,
		incremental: wire.MTHalgroupIncrementalUpdate,
		failure:     wire.MTHalgroupError,
	}
	componentMessages = messageSet{
		full:        wire.MTHalrcompFullUpdate,
		incremental: wire.MTHalrcompIncrementalUpdate,
		failure:     wire.MTHalrcompError,
	}
)

// topic is the scan state of one group or component. A timer exists only
// while active.
type topic struct {
	name     string
	watch    hal.WatchList
	interval time.Duration
	timer    reactor.TimerID
	active   bool
	serial   uint64
}

func (t *topic) status(ch Channel, state string) TopicStatus {
	st := TopicStatus{
		Channel:  ch,
		Name:     t.name,
		Active:   t.active,
		Serial:   t.serial,
		Interval: t.interval,
		State:    state,
	}
	if t.watch != nil {
		st.Items = t.watch.Len()
	}
	return st
}

// scanner is the part shared by the group and component engines: timers,
// change reports and publishing.
type scanner struct {
	channel  Channel
	msgs     messageSet
	store    hal.Store
	pub      Publisher
	timers   Timers
	logger   logging.ServiceLogger
	obs      Observer
	uuid     string
	fallback time.Duration
	active   int
}

func newScanner(opts Options, ch Channel, msgs messageSet, fallback time.Duration) scanner {
	return scanner{
		channel:  ch,
		msgs:     msgs,
		store:    opts.Store,
		pub:      opts.Publisher,
		timers:   opts.Timers,
		logger:   opts.Logger.With(logging.LogFields{"channel": string(ch)}),
		obs:      opts.Observer,
		uuid:     opts.UUID,
		fallback: fallback,
	}
}

func (s *scanner) intervalFor(declared time.Duration) time.Duration {
	if declared > 0 {
		return declared
	}
	if s.fallback > 0 {
		return s.fallback
	}
	return 100 * time.Millisecond
}

func (s *scanner) start(t *topic, tick func()) {
	if t.active {
		return
	}
	t.timer = s.timers.AddTimer(t.interval, tick)
	t.active = true
	s.active++
	s.obs.ActiveTopics(s.channel, s.active)
	s.logger.Debug("scan timer started", logging.LogFields{"topic": t.name, "interval": t.interval.String()})
}

func (s *scanner) stop(t *topic) {
	if !t.active {
		return
	}
	s.timers.CancelTimer(t.timer)
	t.timer = 0
	t.active = false
	s.active--
	s.obs.ActiveTopics(s.channel, s.active)
	s.logger.Debug("scan timer stopped", logging.LogFields{"topic": t.name})
}

// report publishes the members of t. A full report sends every member; an
// incremental one sends only changed members and nothing at all when no
// member changed. The serial moves only when something is sent.
func (s *scanner) report(t *topic, full bool) error {
	mt := s.msgs.incremental
	if full {
		mt = s.msgs.full
	}
	env := wire.New(mt, s.uuid)

	began := time.Now()
	n, err := s.store.Report(t.watch, full, func(m hal.Member) {
		env.AppendMember(m, full)
	})
	s.obs.ScanDuration(s.channel, time.Since(began))
	if err != nil {
		return err
	}
	if n == 0 && !full {
		return nil
	}

	t.serial++
	env.Serial = t.serial
	return s.publish(t.name, env)
}

func (s *scanner) publish(name string, env *wire.Envelope) error {
	if err := s.pub.Publish(s.channel, name, env); err != nil {
		s.logger.Error("publish failed", err, logging.LogFields{"topic": name, "type": env.Type.String()})
		return err
	}
	s.obs.Broadcast(s.channel, env.Type)
	return nil
}

// fail publishes an error envelope on a topic.
func (s *scanner) fail(name string, notes ...string) {
	env := wire.New(s.msgs.failure, s.uuid)
	env.Notes = notes
	_ = s.publish(name, env)
}

// unknown publishes the error sent for a subscription to a name the engine
// does not know, listing the names it does know.
func (s *scanner) unknown(kind, name string, known []string) {
	s.fail(name,
		"no such "+kind+": '"+name+"'",
		"known "+kind+"s: "+strings.Join(known, ", "),
	)
}

func (s *scanner) keepalive(names []string) {
	for _, name := range names {
		_ = s.publish(name, wire.New(wire.MTPing, s.uuid))
	}
}
