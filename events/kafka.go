/*
Package events relays committed economy events to Kafka.

PURPOSE:
  Other services (analytics, quests, fraud scoring) want to react to
  balance changes without calling the engine. The Relay subscribes to the
  engine's post hooks and publishes one JSON message per event.

DELIVERY:
  Post hooks run on the engine's single dispatcher goroutine, so the relay
  only enqueues there. A background goroutine does the publishing. When the
  queue is full the event is dropped and counted; the audit log stays the
  source of truth.

KEYS:
  Transaction events are keyed by player so one player's events stay in
  partition order. Currency events are keyed by currency identifier.

SEE ALSO:
  - economy/hooks.go: PostTransactEvent, PostCreateCurrencyEvent...
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/warp/currency-engine/economy"
)

// =============================================================================
// PRODUCER
// =============================================================================

type ProducerMetrics struct {
	PublishTotal   *prometheus.CounterVec
	PublishLatency prometheus.Histogram
	Dropped        prometheus.Counter
}

func NewProducerMetrics(registry prometheus.Registerer) *ProducerMetrics {
	m := &ProducerMetrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "economy_kafka_publish_total",
				Help: "Total Kafka publish attempts.",
			},
			[]string{"topic", "status"},
		),
		PublishLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "economy_kafka_publish_latency_seconds",
				Help:    "Kafka publish latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		Dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "economy_kafka_dropped_total",
				Help: "Events dropped because the relay queue was full.",
			},
		),
	}

	registry.MustRegister(m.PublishTotal, m.PublishLatency, m.Dropped)
	return m
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
	Close() error
}

type SyncProducer struct {
	producer sarama.SyncProducer
	metrics  *ProducerMetrics
	logger   *log.Entry
}

func NewSyncProducer(brokers []string, metrics *ProducerMetrics) (*SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}

	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewSyncProducerFrom(producer, metrics), nil
}

// NewSyncProducerFrom wraps an existing sarama producer (tests use mocks).
func NewSyncProducerFrom(producer sarama.SyncProducer, metrics *ProducerMetrics) *SyncProducer {
	return &SyncProducer{
		producer: producer,
		metrics:  metrics,
		logger:   log.WithField("component", "kafka"),
	}
}

// ProducerConfig is the idempotent, all-acks configuration the relay uses.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	return cfg
}

func (p *SyncProducer) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	default:
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal kafka payload: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.PublishTotal.WithLabelValues(topic, status).Inc()
		p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("kafka publish failed")
		return 0, 0, fmt.Errorf("kafka publish failed: %w", err)
	}
	return partition, offset, nil
}

func (p *SyncProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// =============================================================================
// MESSAGES
// =============================================================================

const (
	TypeDeposit         = "transaction.deposit"
	TypeWithdraw        = "transaction.withdraw"
	TypeCurrencyCreated = "currency.created"
	TypeCurrencyDeleted = "currency.deleted"
)

type TransactionMessage struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id"`
	Player        string    `json:"player"`
	Currency      string    `json:"currency"`
	Amount        float64   `json:"amount"`
	OldBalance    float64   `json:"old_balance"`
	NewBalance    float64   `json:"new_balance"`
	Reason        string    `json:"reason,omitempty"`
	Initiator     string    `json:"initiator,omitempty"`
	At            time.Time `json:"at"`
}

type CurrencyMessage struct {
	Type             string    `json:"type"`
	CurrencyID       int64     `json:"currency_id"`
	Currency         string    `json:"currency"`
	Actor            string    `json:"actor,omitempty"`
	AffectedAccounts int       `json:"affected_accounts,omitempty"`
	TotalBalance     float64   `json:"total_balance,omitempty"`
	At               time.Time `json:"at"`
}

func transactionMessage(ev economy.PostTransactEvent) TransactionMessage {
	typ := TypeDeposit
	if ev.Operation == economy.OpWithdraw {
		typ = TypeWithdraw
	}
	return TransactionMessage{
		Type:          typ,
		TransactionID: ev.TransactionID,
		Player:        string(ev.Account.PlayerID),
		Currency:      ev.Currency.Identifier,
		Amount:        ev.Amount,
		OldBalance:    ev.OldBalance,
		NewBalance:    ev.NewBalance,
		Reason:        ev.Reason,
		Initiator:     ev.Initiator,
		At:            ev.At,
	}
}

// =============================================================================
// RELAY
// =============================================================================

type outbound struct {
	key   string
	value any
}

// Relay publishes post-mutation events to one topic.
type Relay struct {
	pub     Publisher
	topic   string
	timeout time.Duration
	metrics *ProducerMetrics
	logger  *log.Entry

	queue   chan outbound
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
}

const defaultRelayBuffer = 1024

// NewRelay starts the publishing goroutine. metrics may be nil.
func NewRelay(pub Publisher, topic string, buffer int, metrics *ProducerMetrics) *Relay {
	if buffer <= 0 {
		buffer = defaultRelayBuffer
	}
	r := &Relay{
		pub:     pub,
		topic:   topic,
		timeout: 5 * time.Second,
		metrics: metrics,
		logger:  log.WithFields(log.Fields{"component": "relay", "topic": topic}),
		queue:   make(chan outbound, buffer),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

// Attach subscribes the relay to every post hook of d.
func (r *Relay) Attach(d *economy.Dispatcher) {
	d.OnPostTransact("kafka-relay", func(ev economy.PostTransactEvent) {
		r.enqueue(string(ev.Account.PlayerID), transactionMessage(ev))
	})
	d.OnPostCreateCurrency("kafka-relay", func(ev economy.PostCreateCurrencyEvent) {
		r.enqueue(ev.Currency.Identifier, CurrencyMessage{
			Type:       TypeCurrencyCreated,
			CurrencyID: int64(ev.Currency.ID),
			Currency:   ev.Currency.Identifier,
			Actor:      ev.Actor,
			At:         ev.At,
		})
	})
	d.OnPostDeleteCurrency("kafka-relay", func(ev economy.PostDeleteCurrencyEvent) {
		r.enqueue(ev.Currency.Identifier, CurrencyMessage{
			Type:             TypeCurrencyDeleted,
			CurrencyID:       int64(ev.Currency.ID),
			Currency:         ev.Currency.Identifier,
			Actor:            ev.Actor,
			AffectedAccounts: ev.AffectedAccounts,
			TotalBalance:     ev.TotalBalance,
			At:               ev.At,
		})
	})
}

func (r *Relay) enqueue(key string, value any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- outbound{key: key, value: value}:
	default:
		if r.metrics != nil {
			r.metrics.Dropped.Inc()
		}
		r.logger.WithField("key", key).Warn("relay queue full, event dropped")
	}
}

func (r *Relay) run() {
	defer close(r.stopped)
	for msg := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if _, _, err := r.pub.PublishJSON(ctx, r.topic, msg.key, msg.value); err != nil {
			r.logger.WithError(err).WithField("key", msg.key).Error("event not published")
		}
		cancel()
	}
}

// Close publishes what is queued, then stops. It does not close the
// publisher.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.stopped
}
