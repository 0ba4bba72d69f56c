// Package stream tees audit events to a Kafka topic.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"acsadmin/internal/platform/kafka"
	id "acsadmin/pkg/domain"
	audit "acsadmin/pkg/platform/audit"
	"acsadmin/pkg/platform/circuit"
)

const (
	// probeEvery is how many events pass while the breaker is open before one
	// is sent to the broker as a probe.
	probeEvery = 10
	// probeInterval sends a probe on a quiet panel even if fewer events passed.
	probeInterval = 30 * time.Second
)

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// Sink implements audit.Store. Every event is appended to the durable store,
// then produced to the topic keyed by account. Broker failures never fail the
// append; after repeated failures the breaker opens and only probes reach Kafka.
type Sink struct {
	producer Producer
	topic    string
	durable  audit.Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewSink(producer Producer, topic string, durable audit.Store, logger *slog.Logger) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		durable:  durable,
		logger:   logger,
	}
	s.breaker = circuit.New("audit-stream",
		circuit.WithFailureThreshold(3),
		circuit.WithSuccessThreshold(1),
		circuit.WithProbeEvery(probeEvery),
		circuit.WithProbeInterval(probeInterval),
		circuit.WithStateListener(s.breakerMoved),
	)
	return s
}

func (s *Sink) breakerMoved(name string, to circuit.State) {
	if s.logger == nil {
		return
	}
	if to == circuit.StateOpen {
		s.logger.Warn("audit stream circuit opened, events go to the durable store only", "breaker", name, "topic", s.topic)
		return
	}
	s.logger.Info("audit stream circuit closed", "breaker", name, "topic", s.topic)
}

func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	if err := s.durable.Append(ctx, event); err != nil {
		return err
	}
	if !s.breaker.Allow() {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	msg := &kafka.Message{
		Topic:   s.topic,
		Key:     []byte(event.AccountID.String()),
		Value:   payload,
		Headers: map[string]string{"action": string(event.Action)},
	}

	if err := s.producer.Produce(ctx, msg); err != nil {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "audit event not streamed", "action", string(event.Action), "error", err)
		}
		s.breaker.RecordFailure()
		return nil
	}
	s.breaker.RecordSuccess()
	return nil
}

func (s *Sink) ListByAccount(ctx context.Context, accountID id.AccountID) ([]audit.Event, error) {
	return s.durable.ListByAccount(ctx, accountID)
}

// Open reports whether the broker is currently being bypassed.
func (s *Sink) Open() bool {
	return s.breaker.IsOpen()
}
