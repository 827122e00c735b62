package eventbus

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/matching"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
)

// Bus publishes exchange events over a watermill transport, satisfying
// matching.Publisher. Construction decides the transport: NewInMemory
// for single-process/test mode, NewNATS for a durable, multi-subscriber
// deployment — the core only ever depends on message.Publisher.
type Bus struct {
	pub    message.Publisher
	logger exlog.Logger
}

// NewInMemory builds a Bus over an in-process gochannel pub/sub, the
// single-process/test transport (spec §2a). The returned *gochannel.GoChannel
// also implements message.Subscriber, so callers that need to consume
// their own events (e.g. an integration test) can subscribe on it
// directly.
func NewInMemory(logger exlog.Logger) (*Bus, *gochannel.GoChannel) {
	wmLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024, Persistent: false}, wmLogger)
	return &Bus{pub: pubSub, logger: logger}, pubSub
}

// NewNATS builds a Bus over a durable NATS-backed publisher (spec §2a).
func NewNATS(natsURL string, logger exlog.Logger) (*Bus, error) {
	wmLogger := watermill.NewStdLogger(false, false)
	pub, err := nats.NewPublisher(nats.PublisherConfig{
		URL:       natsURL,
		Marshaler: nats.GobMarshaler{},
	}, wmLogger)
	if err != nil {
		return nil, err
	}
	return &Bus{pub: pub, logger: logger}, nil
}

// PublishTrade implements matching.Publisher.
func (b *Bus) PublishTrade(t matching.Trade) {
	b.publish(TopicTrades, tradeEventFrom(t))
}

// PublishOrder implements matching.Publisher.
func (b *Bus) PublishOrder(o orderbook.Order) {
	b.publish(TopicOrders, orderEventFrom(o))
}

// PublishBreakerChange publishes a circuit-breaker state transition
// (spec §4.5 "on_circuit_breaker_change").
func (b *Bus) PublishBreakerChange(symbol string, state int) {
	b.publish(TopicBreaker, BreakerEvent{Symbol: symbol, State: state})
}

func (b *Bus) publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("eventbus: marshal failed", "topic", topic, "error", err.Error())
		return
	}
	msg := message.NewMessage(uuid.New().String(), data)
	if err := b.pub.Publish(topic, msg); err != nil {
		b.logger.Error("eventbus: publish failed", "topic", topic, "error", err.Error())
	}
}

var _ matching.Publisher = (*Bus)(nil)
