package messaging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// goChannelBroker is the in-process transport: tests and single-node runs.
type goChannelBroker struct {
	ch *gochannel.GoChannel
}

// NewGoChannel returns an in-process broker. Each NewSubscriber call shares
// the same GoChannel; gochannel fans every published message out to every
// active Subscribe call independently.
func NewGoChannel(logger watermill.LoggerAdapter) Broker {
	return &goChannelBroker{
		ch: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger),
	}
}

func (b *goChannelBroker) Publish(topic string, messages ...*message.Message) error {
	return b.ch.Publish(topic, messages...)
}

func (b *goChannelBroker) NewSubscriber() (message.Subscriber, error) {
	return sharedSubscriber{Subscriber: b.ch}, nil
}

func (b *goChannelBroker) Close() error {
	return b.ch.Close()
}

// sharedSubscriber hands out the broker-owned GoChannel. Subscription
// owners close their subscriber when their context ends; for the shared
// channel that must not tear down the broker, so Close is a no-op and the
// broker's Close remains the real teardown.
type sharedSubscriber struct {
	message.Subscriber
}

func (sharedSubscriber) Close() error { return nil }
