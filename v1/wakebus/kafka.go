package wakebus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
)

type kafkaSubscription struct {
	pc    sarama.PartitionConsumer
	chans []chan struct{}
	done  chan struct{}
}

// KafkaBus implements Bus using a Kafka backend with one topic per key.
// Release signals are read from the newest offset only; a waiter that
// subscribes after a release re-checks the key itself, so replaying
// history is never needed.
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer

	mu        sync.Mutex
	subs      map[string]*kafkaSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		subs:     make(map[string]*kafkaSubscription),
	}, nil
}

// topicName maps a bus key to a legal Kafka topic name. Keys carry ':'
// separators which Kafka topics do not allow.
func topicName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, key)
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, key string) error {
	msg := &sarama.ProducerMessage{Topic: topicName(key), Value: sarama.StringEncoder("1")}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first subscriber for a key
// starts a partition consumer; later ones share it.
func (b *KafkaBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		pc, err := b.consumer.ConsumePartition(topicName(key), 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &kafkaSubscription{pc: pc, done: make(chan struct{})}
		b.subs[key] = sub
		go b.dispatch(key, sub)
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *KafkaBus) dispatch(key string, sub *kafkaSubscription) {
	for {
		select {
		case _, ok := <-sub.pc.Messages():
			if !ok {
				return
			}
			b.mu.Lock()
			chans := append([]chan struct{}(nil), sub.chans...)
			b.mu.Unlock()
			for _, c := range chans {
				select {
				case c <- struct{}{}:
					b.delivered.Add(1)
				default:
				}
			}
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe. The partition consumer is
// closed when the last local subscriber leaves.
func (b *KafkaBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans = append(sub.chans[:i], sub.chans[i+1:]...)
			break
		}
	}
	if len(sub.chans) > 0 {
		b.mu.Unlock()
		return nil
	}
	delete(b.subs, key)
	b.mu.Unlock()
	close(sub.done)
	return sub.pc.Close()
}

// Close shuts down the producer, the consumer and every subscription.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*kafkaSubscription)
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.done)
		_ = sub.pc.Close()
	}
	perr := b.producer.Close()
	cerr := b.consumer.Close()
	if perr != nil {
		return perr
	}
	return cerr
}

// Stats returns traffic counters.
func (b *KafkaBus) Stats() Stats {
	return Stats{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
