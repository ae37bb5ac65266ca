package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/outbox"
	"github.com/ariefcatur/go-checkout-orders/internal/pgtest"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"go.uber.org/goleak"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []kafkago.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msgs ...kafkago.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msgs...)
	return nil
}

func (p *fakePublisher) messages() []kafkago.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafkago.Message(nil), p.sent...)
}

type relaySuite struct {
	suite.Suite

	container testcontainers.Container
	pool      *pgxpool.Pool
	store     *orders.Store
}

func TestRelaySuite(t *testing.T) {
	defer goleak.VerifyNone(t, pgtest.IgnoreContainerRuntime()...)

	suite.Run(t, new(relaySuite))
}

func (s *relaySuite) SetupSuite() {
	var err error
	s.container, s.pool, err = pgtest.Start(s.T().Context())
	s.Require().NoError(err)
	s.store = orders.NewStore(s.pool, 2*time.Second, 3)
}

func (s *relaySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(s.T().Context()))
	}
}

func (s *relaySuite) SetupTest() {
	_, err := s.pool.Exec(s.T().Context(), `UPDATE outbox SET sent_at = now() WHERE sent_at IS NULL`)
	s.Require().NoError(err)
}

func (s *relaySuite) relay(pub outbox.Publisher, m *metrics.Metrics) *outbox.Relay {
	return &outbox.Relay{
		Store:     s.store,
		Publisher: pub,
		Interval:  20 * time.Millisecond,
		Batch:     2,
		Metrics:   m,
		Log:       pgtest.DiscardLogger(),
	}
}

func (s *relaySuite) pending() int {
	n, err := pgtest.Count(s.T().Context(), s.pool, `SELECT count(*) FROM outbox WHERE sent_at IS NULL`)
	s.Require().NoError(err)
	return n
}

func (s *relaySuite) TestFlush_PublishesInOrderWithHeaders() {
	t := s.T()
	ctx := t.Context()

	_, o, err := pgtest.PlaceOrder(ctx, s.store, 5, 1)
	require.NoError(t, err)
	require.Equal(t, 1, s.pending())

	pub := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())
	n, err := s.relay(pub, m).Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, s.pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxPublished))

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, orders.TopicOrderCreated, msgs[0].Topic)
	assert.Equal(t, orders.PartitionKey(o.ID), string(msgs[0].Key))
	assert.Equal(t, orders.EventOrderCreated, kafka.Header(msgs[0], kafka.HeaderEventType))
	assert.Equal(t, "1", kafka.Header(msgs[0], kafka.HeaderEventVersion))

	env, err := kafka.DecodeEnvelope(msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, kafka.Header(msgs[0], "x-event-id"))

	n, err = s.relay(pub, m).Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (s *relaySuite) TestFlush_PublishFailureKeepsRecords() {
	t := s.T()
	ctx := t.Context()

	_, _, err := pgtest.PlaceOrder(ctx, s.store, 5, 1)
	require.NoError(t, err)

	pub := &fakePublisher{err: errors.New("broker down")}
	_, err = s.relay(pub, metrics.New(prometheus.NewRegistry())).Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, s.pending())

	pub.err = nil
	n, err := s.relay(pub, metrics.New(prometheus.NewRegistry())).Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func (s *relaySuite) TestRun_DrainsBacklog() {
	t := s.T()

	for range 5 {
		_, _, err := pgtest.PlaceOrder(t.Context(), s.store, 5, 1)
		require.NoError(t, err)
	}

	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.relay(pub, metrics.New(prometheus.NewRegistry())).Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.messages()) == 5 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, s.pending())
}
