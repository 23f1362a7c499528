package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/logger"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/mailer"
)

type stubSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	fail bool
}

func (s *stubSender) Send(_ context.Context, msg mailer.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("smtp down")
	}
	s.sent = append(s.sent, msg)
	return "id", nil
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDispatcher_Delivers(t *testing.T) {
	sender := &stubSender{}
	d := New(sender, logger.Discard(), 10, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 5; i++ {
		require.True(t, d.Enqueue("test", mailer.Message{To: "a@example.com"}))
	}
	require.Eventually(t, func() bool { return sender.count() == 5 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	st := d.Stats()
	assert.Equal(t, uint64(5), st.Enqueued)
	assert.Equal(t, uint64(5), st.Sent)
	assert.Zero(t, st.Failed)
}

func TestDispatcher_FailuresAreCounted(t *testing.T) {
	d := New(&stubSender{fail: true}, logger.Discard(), 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.Enqueue("test", mailer.Message{To: "a@example.com"})
	require.Eventually(t, func() bool { return d.Stats().Failed == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, d.Stats().Sent)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := New(&stubSender{}, logger.Discard(), 2, 1)

	assert.True(t, d.Enqueue("test", mailer.Message{To: "a@example.com"}))
	assert.True(t, d.Enqueue("test", mailer.Message{To: "b@example.com"}))
	assert.False(t, d.Enqueue("test", mailer.Message{To: "c@example.com"}))

	st := d.Stats()
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, 2, st.Pending)
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	sender := &stubSender{}
	d := New(sender, logger.Discard(), 10, 1)
	d.Enqueue("test", mailer.Message{To: "a@example.com"})
	d.Enqueue("test", mailer.Message{To: "b@example.com"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 2, sender.count())
}
