package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/procflow/pkg/channels/gochannel"
	"github.com/dukex/procflow/pkg/channels/kafka"
	"github.com/dukex/procflow/pkg/eventbus"
)

// NewEventRelay creates the forwarder that relays engine events to the selected
// broker, and a subscriber on the same broker. The provider "none" disables the relay.
func NewEventRelay(provider, brokers, serviceName string, logger *slog.Logger) (*eventbus.Forwarder, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	switch provider {
	case "none":
		return nil, nil, nil
	case "kafka":
		pub, sub, err = kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), serviceName)
	case "gochannel", "":
		pub, sub, err = gochannel.CreateChannel(wmLogger)
	default:
		return nil, nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s pub/sub: %w", provider, err)
	}

	return eventbus.NewForwarder(pub, "", logger), sub, nil
}
