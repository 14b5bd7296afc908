package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workchat-service/internal/models"
)

type captureSink struct {
	mu       sync.Mutex
	events   []models.FeedEvent
	closes   int
	failSend bool
}

func (s *captureSink) Send(event models.FeedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return errors.New("sink closed")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *captureSink) eventsOfType(eventType string) []models.FeedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FeedEvent
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type stubSource struct {
	mu      sync.Mutex
	batches [][]models.Message
	call    int
	unread  map[int]int
	listErr error
}

func (s *stubSource) ListSince(ctx context.Context, roomIDs []int, since time.Time, excludeSender int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if s.call >= len(s.batches) {
		return nil, nil
	}
	batch := s.batches[s.call]
	s.call++
	return batch, nil
}

func (s *stubSource) UnreadCount(ctx context.Context, roomID, userID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[roomID], nil
}

func msgAt(id, roomID, senderID int, at time.Time) models.Message {
	return models.Message{ID: id, RoomID: roomID, SenderID: senderID, Body: "m", CreatedAt: at}
}

func TestTickEmitsMessagesInOrder(t *testing.T) {
	now := time.Now()
	sink := &captureSink{}
	source := &stubSource{
		batches: [][]models.Message{{
			msgAt(1, 5, 2, now.Add(10*time.Millisecond)),
			msgAt(2, 5, 2, now.Add(20*time.Millisecond)),
			msgAt(3, 5, 2, now.Add(30*time.Millisecond)),
		}},
		unread: map[int]int{5: 3},
	}
	p := NewPoller(sink, source, 1, []int{5}, "room", Config{})

	require.True(t, p.tick(context.Background()))

	events := sink.eventsOfType(models.EventNewMessage)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i+1, e.Message.ID)
	}
	assert.Equal(t, now.Add(30*time.Millisecond), p.watermark)
}

func TestTickDeduplicatesOverlapRedelivery(t *testing.T) {
	now := time.Now()
	first := msgAt(1, 5, 2, now.Add(10*time.Millisecond))
	second := msgAt(2, 5, 2, now.Add(20*time.Millisecond))
	sink := &captureSink{}
	source := &stubSource{
		// The overlap window re-returns message 1 on the second tick.
		batches: [][]models.Message{{first}, {first, second}},
		unread:  map[int]int{},
	}
	p := NewPoller(sink, source, 1, []int{5}, "room", Config{})

	require.True(t, p.tick(context.Background()))
	require.True(t, p.tick(context.Background()))

	events := sink.eventsOfType(models.EventNewMessage)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Message.ID)
	assert.Equal(t, 2, events[1].Message.ID)
}

func TestTickErrorMeansNoNewData(t *testing.T) {
	sink := &captureSink{}
	source := &stubSource{listErr: errors.New("db down")}
	p := NewPoller(sink, source, 1, []int{5}, "room", Config{})

	assert.True(t, p.tick(context.Background()))
	assert.Empty(t, sink.events)
}

func TestTickUnreadUpdateOnlyOnChange(t *testing.T) {
	sink := &captureSink{}
	source := &stubSource{unread: map[int]int{5: 2}}
	p := NewPoller(sink, source, 1, []int{5}, "room", Config{})

	require.True(t, p.tick(context.Background()))
	require.True(t, p.tick(context.Background()))

	updates := sink.eventsOfType(models.EventUnreadUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, 2, *updates[0].Unread)

	source.mu.Lock()
	source.unread[5] = 0
	source.mu.Unlock()
	require.True(t, p.tick(context.Background()))

	updates = sink.eventsOfType(models.EventUnreadUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, 0, *updates[1].Unread)
}

func TestTickDeadSinkEndsConnection(t *testing.T) {
	now := time.Now()
	sink := &captureSink{failSend: true}
	source := &stubSource{
		batches: [][]models.Message{{msgAt(1, 5, 2, now)}},
		unread:  map[int]int{},
	}
	p := NewPoller(sink, source, 1, []int{5}, "room", Config{})

	assert.False(t, p.tick(context.Background()))
}

func TestRunLifecycle(t *testing.T) {
	sink := &captureSink{}
	source := &stubSource{unread: map[int]int{}}
	p := NewPoller(sink, source, 1, []int{5}, "room", Config{
		Interval: 5 * time.Millisecond,
		Lifetime: 40 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop at lifetime deadline")
	}

	assert.Equal(t, StateClosed, p.State())
	connected := sink.eventsOfType(models.EventConnected)
	require.Len(t, connected, 1)
	assert.Equal(t, models.EventConnected, sink.events[0].Type)
}

func TestRunStopsOnCancel(t *testing.T) {
	sink := &captureSink{}
	source := &stubSource{unread: map[int]int{}}
	p := NewPoller(sink, source, 1, []int{5}, "room", Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancellation")
	}
	assert.Equal(t, StateClosed, p.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	sink := &captureSink{}
	p := NewPoller(sink, &stubSource{}, 1, []int{5}, "room", Config{})

	p.Close()
	p.Close()

	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, StateClosed, p.State())
}

func TestSelfMessagesNeverEmitted(t *testing.T) {
	// The exclusion happens in the query; verify the poller passes the
	// connection's own user id as the excluded sender.
	var gotExclude int
	source := &recordingSource{exclude: &gotExclude}
	sink := &captureSink{}
	p := NewPoller(sink, source, 42, []int{5}, "room", Config{})

	require.True(t, p.tick(context.Background()))
	assert.Equal(t, 42, gotExclude)
}

type recordingSource struct {
	exclude *int
}

func (s *recordingSource) ListSince(ctx context.Context, roomIDs []int, since time.Time, excludeSender int) ([]models.Message, error) {
	*s.exclude = excludeSender
	return nil, nil
}

func (s *recordingSource) UnreadCount(ctx context.Context, roomID, userID int) (int, error) {
	return 0, nil
}
