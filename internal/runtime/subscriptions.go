package runtime

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/haltalk/internal/runtime/engine"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
	metadatapkg "github.com/drblury/haltalk/internal/runtime/metadata"
)

// control is one decoded subscription frame: the first byte is non-zero for
// subscribe and zero for unsubscribe, the rest names the topic.
type control struct {
	subscribe bool
	topic     string
}

func parseControl(payload []byte) (control, error) {
	if len(payload) < 2 {
		return control{}, errors.New("subscription frame needs a flag byte and a topic")
	}
	return control{subscribe: payload[0] != 0, topic: string(payload[1:])}, nil
}

// ControlFrame builds the payload of a subscription control message.
func ControlFrame(subscribe bool, topic string) []byte {
	flag := byte(0)
	if subscribe {
		flag = 1
	}
	return append([]byte{flag}, topic...)
}

// transition is what a control frame means for the engine.
type transition int

const (
	transitionNone transition = iota
	transitionFirst
	transitionAdditional
	transitionLast
)

// subscriptionTracker counts subscribers per topic of one channel. It is only
// touched from the reactor.
type subscriptionTracker struct {
	counts map[string]int
}

func newSubscriptionTracker() *subscriptionTracker {
	return &subscriptionTracker{counts: make(map[string]int)}
}

func (t *subscriptionTracker) subscribe(topic string) transition {
	t.counts[topic]++
	if t.counts[topic] == 1 {
		return transitionFirst
	}
	return transitionAdditional
}

// unsubscribe ignores topics without subscribers.
func (t *subscriptionTracker) unsubscribe(topic string) transition {
	n, ok := t.counts[topic]
	if !ok {
		return transitionNone
	}
	if n <= 1 {
		delete(t.counts, topic)
		return transitionLast
	}
	t.counts[topic] = n - 1
	return transitionNone
}

// forget drops a topic whose first subscription failed.
func (t *subscriptionTracker) forget(topic string) {
	delete(t.counts, topic)
}

func (t *subscriptionTracker) subscribers(topic string) int { return t.counts[topic] }

// handleSubscriptions returns the router handler for the control topic of ch.
func (s *Service) handleSubscriptions(ch engine.Channel) message.NoPublishHandlerFunc {
	tracker := s.trackers[ch]
	return func(msg *message.Message) error {
		origin := metadatapkg.FromWatermill(msg.Metadata).Origin()
		ctrl, err := parseControl(msg.Payload)
		if err != nil {
			return s.unprocessable(origin, msg.Payload, err)
		}
		return s.loop.Do(msg.Context(), func() {
			s.applyControl(ch, tracker, ctrl, origin)
		})
	}
}

func (s *Service) applyControl(ch engine.Channel, tracker *subscriptionTracker, ctrl control, origin string) {
	fields := loggingpkg.LogFields{"channel": string(ch), "topic": ctrl.topic, "origin": origin}
	if !ctrl.subscribe {
		if tracker.unsubscribe(ctrl.topic) != transitionLast {
			s.Logger.Debug("subscriber left", fields)
			return
		}
		s.Logger.Info("last subscriber left", fields)
		if err := s.registry.Unsubscribe(ch, ctrl.topic); err != nil {
			s.Logger.Error("unsubscribe failed", err, fields)
		}
		return
	}

	first := tracker.subscribe(ctrl.topic) == transitionFirst
	fields["subscribers"] = tracker.subscribers(ctrl.topic)
	s.Logger.Info("subscriber joined", fields)
	if err := s.registry.Subscribe(ch, ctrl.topic, first); err != nil {
		if first {
			tracker.forget(ctrl.topic)
		}
		s.Logger.Error("subscribe failed", err, fields)
	}
}

// unprocessable logs a payload that cannot be parsed. The returned error
// routes the message to the poison queue when one is configured; otherwise
// the message is dropped.
func (s *Service) unprocessable(origin string, payload []byte, err error) error {
	s.dump(origin, payload, err)
	if s.Conf.PoisonQueue == "" {
		return nil
	}
	return &errspkg.UnprocessableFrameError{Origin: origin, Err: fmt.Errorf("%w (%d bytes)", err, len(payload))}
}

// dump logs an unparsable payload with a hex dump of its bytes.
func (s *Service) dump(origin string, payload []byte, err error) {
	s.Logger.Error("unprocessable frame", err, loggingpkg.LogFields{
		"origin": origin,
		"dump":   hex.Dump(payload),
	})
}
