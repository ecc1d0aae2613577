// Package eventbus publishes next-hop metric changes to Kafka for
// out-of-process decision consumers. It is optional and never imported
// by the core library — cmd/routecored wires it in as an
// nexthop.DecisionSink implementation so the library itself stays
// transport-agnostic.
package eventbus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

// NextHopMetricChangedEvent is the JSON payload published for a
// nexthop.DecisionSink.NextHopMetricChanged call.
type NextHopMetricChangedEvent struct {
	Nexthop   string    `json:"nexthop"`
	Timestamp time.Time `json:"timestamp"`
}

// RouteWinnerChangedEvent is the JSON payload published when a BgpTrie's
// decision process selects a new winning route for a prefix.
type RouteWinnerChangedEvent struct {
	Prefix    string    `json:"prefix"`
	Winner    string    `json:"winner,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher produces decision-notification events to a single Kafka
// topic using a kgo.Client, constructed the same way the teacher's
// internal/kafka consumers build one (TLS/SASL options, ClientID, seed
// brokers) but as a producer instead of a consumer group member.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

// NewPublisher constructs a Publisher. tlsCfg/saslMech may be nil to
// disable TLS/SASL respectively.
func NewPublisher(brokers []string, topic, clientID string, tlsCfg *tls.Config, saslMech sasl.Mechanism, logger *zap.Logger) (*Publisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: creating kafka client: %w", err)
	}

	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// NextHopMetricChanged implements nexthop.DecisionSink. Publishing is
// fire-and-forget from the caller's perspective — failures are logged,
// never returned, since a dropped notification must not stall the
// nexthop resolver's actor loop.
func (p *Publisher) NextHopMetricChanged(nh prefix.Addr) {
	ev := NextHopMetricChangedEvent{Nexthop: nh.String(), Timestamp: time.Now()}
	p.publish(ev.Nexthop, ev)
}

// RouteWinnerChanged publishes a RouteWinnerChangedEvent for net, keyed
// by the prefix so all events for the same route land on one partition.
func (p *Publisher) RouteWinnerChanged(net prefix.Prefix, winner string) {
	ev := RouteWinnerChangedEvent{Prefix: net.String(), Winner: winner, Timestamp: time.Now()}
	p.publish(ev.Prefix, ev)
}

func (p *Publisher) publish(key string, payload any) {
	value, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("eventbus: failed to encode event", zap.Error(err))
		return
	}
	rec := &kgo.Record{Topic: p.topic, Key: []byte(key), Value: value}
	p.client.Produce(context.Background(), rec, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("eventbus: publish failed", zap.String("topic", p.topic), zap.Error(err))
		}
	})
}

// Close flushes any buffered records and closes the underlying client.
func (p *Publisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("eventbus: flush before close failed", zap.Error(err))
	}
	p.client.Close()
}
