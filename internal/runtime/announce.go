package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"

	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
)

// ServiceRecord advertises one endpoint of a running broker.
type ServiceRecord struct {
	Service string `json:"service"`
	Subtype string `json:"subtype"`
	Label   string `json:"label,omitempty"`
	UUID    string `json:"uuid"`
	Topic   string `json:"topic"`
}

// Announcer makes a broker's endpoints discoverable.
type Announcer interface {
	Announce(ctx context.Context, records []ServiceRecord) error
	Close() error
}

// LogAnnouncer writes service records to the log.
type LogAnnouncer struct {
	Logger loggingpkg.ServiceLogger
}

func (a LogAnnouncer) Announce(_ context.Context, records []ServiceRecord) error {
	for _, r := range records {
		a.Logger.Info("service announced", loggingpkg.LogFields{
			"service": r.Service,
			"subtype": r.Subtype,
			"topic":   r.Topic,
			"uuid":    r.UUID,
		})
	}
	return nil
}

func (LogAnnouncer) Close() error { return nil }

// NATSConn is the part of a NATS connection the announcer uses.
type NATSConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSConnect allows overriding the NATS connection for testing.
var NATSConnect = func(url string) (NATSConn, error) {
	return nats.Connect(url, nats.Name("haltalk-announcer"))
}

// NATSAnnouncer publishes one JSON record per endpoint on a NATS subject.
// It connects on first use.
type NATSAnnouncer struct {
	URL     string
	Subject string

	conn NATSConn
}

func (a *NATSAnnouncer) Announce(ctx context.Context, records []ServiceRecord) error {
	if a.Subject == "" {
		return errors.New("announce: subject is required")
	}
	if a.conn == nil {
		conn, err := NATSConnect(a.URL)
		if err != nil {
			return fmt.Errorf("announce: connect: %w", err)
		}
		a.conn = conn
	}
	for _, r := range records {
		data, err := sonic.ConfigStd.Marshal(r)
		if err != nil {
			return fmt.Errorf("announce %s: %w", r.Subtype, err)
		}
		if err := a.conn.Publish(a.Subject, data); err != nil {
			return fmt.Errorf("announce %s: %w", r.Subtype, err)
		}
	}
	return a.conn.FlushWithContext(ctx)
}

func (a *NATSAnnouncer) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Drain()
}

// records lists the service records of the three endpoints.
func (s *Service) records() []ServiceRecord {
	uuid := s.registry.UUID()
	endpoints := []struct{ subtype, topic string }{
		{"halgroup", s.Conf.GroupEndpoint},
		{"halrcomp", s.Conf.ComponentEndpoint},
		{"halrcmd", s.Conf.CommandEndpoint},
	}
	out := make([]ServiceRecord, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, ServiceRecord{
			Service: "haltalk",
			Subtype: ep.subtype,
			Label:   s.Conf.ServiceLabel,
			UUID:    uuid,
			Topic:   ep.topic,
		})
	}
	return out
}
