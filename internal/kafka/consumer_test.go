package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		m := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.committed...)
}

func TestConsumer_RetriesAndCommitsInPartitionOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{}
	for off := int64(0); off < 5; off++ {
		for p := 0; p < 3; p++ {
			r.pending = append(r.pending, kafka.Message{Topic: "order.paid", Partition: p, Offset: off})
		}
	}
	c := newConsumer(r, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retry = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	var mu sync.Mutex
	failures := 0
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if m.Partition == 1 && m.Offset == 2 && failures < 3 {
			failures++
			return errors.New("redis unavailable")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 15 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, failures)
	last := map[int]int64{0: -1, 1: -1, 2: -1}
	for _, m := range r.commits() {
		assert.Equal(t, last[m.Partition]+1, m.Offset, "partition %d committed out of order", m.Partition)
		last[m.Partition] = m.Offset
	}
	assert.True(t, r.closed)
}

func TestConsumer_FailingMessageIsNotCommittedOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{pending: []kafka.Message{
		{Topic: "order.created", Partition: 0, Offset: 0},
		{Topic: "order.created", Partition: 0, Offset: 1},
	}}
	c := newConsumer(r, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retry = func() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }

	attempts := make(chan struct{}, 100)
	h := func(_ context.Context, m kafka.Message) error {
		if m.Offset == 0 {
			attempts <- struct{}{}
			return errors.New("down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	for range 3 {
		<-attempts
	}
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, r.commits(), "offset 1 must wait behind the failing offset 0")
}
