// Package transports imports every built-in transport so each registers with
// the default registry.
package transports

import (
	_ "github.com/drblury/haltalk/transport/channel"
	_ "github.com/drblury/haltalk/transport/kafka"
	_ "github.com/drblury/haltalk/transport/nats"
	_ "github.com/drblury/haltalk/transport/rabbitmq"
)
