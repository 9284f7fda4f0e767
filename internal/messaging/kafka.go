package messaging

import (
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// kafkaBroker is the multi-instance transport: change events flow through
// Kafka so subscriptions see writes made by other server instances.
type kafkaBroker struct {
	publisher *kafka.Publisher
	brokers   []string
	logger    watermill.LoggerAdapter

	mu   sync.Mutex
	subs map[*kafkaSubscriber]struct{}
}

// NewKafka returns a Kafka-backed broker.
func NewKafka(brokers []string, logger watermill.LoggerAdapter) (Broker, error) {
	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &kafkaBroker{
		publisher: publisher,
		brokers:   brokers,
		logger:    logger,
		subs:      make(map[*kafkaSubscriber]struct{}),
	}, nil
}

func (b *kafkaBroker) Publish(topic string, messages ...*message.Message) error {
	return b.publisher.Publish(topic, messages...)
}

// NewSubscriber creates a subscriber with a fresh consumer group, so every
// live feed receives the full change stream from now on. The caller owns
// the subscriber and closes it when its subscription ends; closing removes
// it from the broker's tracking so finished feeds free their consumer.
func (b *kafkaBroker) NewSubscriber() (message.Subscriber, error) {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               b.brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: cfg,
		ConsumerGroup:         "feed-" + watermill.NewShortUUID(),
	}, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}

	ks := &kafkaSubscriber{Subscriber: sub, broker: b}
	b.mu.Lock()
	b.subs[ks] = struct{}{}
	b.mu.Unlock()
	return ks, nil
}

// Close closes the publisher and any subscribers whose owners have not
// closed them yet.
func (b *kafkaBroker) Close() error {
	b.mu.Lock()
	remaining := make([]*kafkaSubscriber, 0, len(b.subs))
	for ks := range b.subs {
		remaining = append(remaining, ks)
	}
	b.subs = make(map[*kafkaSubscriber]struct{})
	b.mu.Unlock()

	err := b.publisher.Close()
	for _, ks := range remaining {
		if cerr := ks.Subscriber.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// kafkaSubscriber unregisters itself from the broker on Close.
type kafkaSubscriber struct {
	message.Subscriber
	broker *kafkaBroker
}

func (ks *kafkaSubscriber) Close() error {
	ks.broker.mu.Lock()
	_, tracked := ks.broker.subs[ks]
	delete(ks.broker.subs, ks)
	ks.broker.mu.Unlock()

	if !tracked {
		// The broker already closed it.
		return nil
	}
	return ks.Subscriber.Close()
}
