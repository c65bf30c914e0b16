package runtime

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
	metadatapkg "github.com/drblury/haltalk/internal/runtime/metadata"
	"github.com/drblury/haltalk/internal/wire"
)

// handleCommand serves the command channel. The payload holds one or more
// request frames; the replies are framed the same way and published on the
// reply topic of the request's origin. Requests that all reply with silence
// publish nothing.
func (s *Service) handleCommand(msg *message.Message) error {
	md := metadatapkg.FromWatermill(msg.Metadata)
	origin := md.Origin()
	if origin == "" {
		return s.unprocessable(origin, msg.Payload, errspkg.ErrOriginRequired)
	}

	frames, err := wire.SplitFrames(msg.Payload)
	if err != nil {
		return s.unprocessable(origin, msg.Payload, err)
	}
	if len(frames) == 0 {
		return s.unprocessable(origin, msg.Payload, fmt.Errorf("%w: no request frames", wire.ErrMalformedFrame))
	}

	var replies [][]byte
	err = s.loop.Do(msg.Context(), func() {
		for _, frame := range frames {
			if data := s.serve(origin, frame); data != nil {
				replies = append(replies, data)
			}
		}
	})
	if err != nil {
		return err
	}
	if len(replies) == 0 {
		return nil
	}

	reply := md.With(metadatapkg.KeyTopic, s.Conf.CommandEndpoint)
	out, err := s.status.frame(wire.JoinFrames(replies...), reply)
	if err != nil {
		s.Logger.Error("reply dropped", err, loggingpkg.LogFields{"origin": origin, "replies": len(replies)})
		return nil
	}
	out.SetContext(msg.Context())
	return s.publisher.Publish(ReplyTopic(s.Conf.CommandEndpoint, origin), out)
}

// serve answers one request frame. A frame that does not decode is logged
// and dropped without a reply. It runs on the reactor.
func (s *Service) serve(origin string, frame []byte) []byte {
	req, err := s.codec.Decode(frame)
	if err != nil {
		s.dump(origin, frame, err)
		return nil
	}
	s.Logger.Trace("request", loggingpkg.LogFields{"origin": origin, "type": req.Type.String()})
	reply := s.registry.Handle(req)
	if reply == nil {
		return nil
	}

	data, err := s.codec.Encode(reply)
	if err != nil {
		s.Logger.Error("reply encoding failed", err, loggingpkg.LogFields{"origin": origin, "type": reply.Type.String()})
		return nil
	}
	return data
}

// isUnprocessable is the poison queue filter.
func isUnprocessable(err error) bool {
	return errspkg.IsUnprocessable(err) || errors.Is(err, wire.ErrMalformedFrame)
}
