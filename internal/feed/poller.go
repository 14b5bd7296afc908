package feed

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"workchat-service/internal/models"
	"workchat-service/internal/observability"
)

// EventSink receives feed events for one connection.
type EventSink interface {
	Send(event models.FeedEvent) error
	Close() error
}

// MessageSource supplies the poll queries. Satisfied by
// repositories.MessageRepository.
type MessageSource interface {
	ListSince(ctx context.Context, roomIDs []int, since time.Time, excludeSender int) ([]models.Message, error)
	UnreadCount(ctx context.Context, roomID, userID int) (int, error)
}

// Connection states. Closed is terminal.
const (
	StateConnecting int32 = iota
	StateOpen
	StateClosing
	StateClosed
)

// Config tunes a poller. Zero values fall back to the defaults.
type Config struct {
	Interval time.Duration
	Overlap  time.Duration
	Lifetime time.Duration
}

const (
	defaultInterval = 1500 * time.Millisecond
	defaultOverlap  = time.Second
	defaultLifetime = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Overlap <= 0 {
		c.Overlap = defaultOverlap
	}
	if c.Lifetime <= 0 {
		c.Lifetime = defaultLifetime
	}
	return c
}

// Poller drives one live feed connection: a fixed-interval loop that emits
// newly arrived messages and unread-count deltas until the client disconnects
// or the connection lifetime elapses.
//
// The watermark only moves forward; each query reaches back by a small
// overlap to tolerate commit/visibility skew, and redelivered rows are
// discarded by message id.
type Poller struct {
	sink    EventSink
	source  MessageSource
	userID  int
	roomIDs []int
	kind    string
	cfg     Config

	watermark  time.Time
	seen       map[int]time.Time
	lastUnread int

	state     atomic.Int32
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewPoller builds a poller for the given rooms. kind labels metrics ("room"
// for a single-room feed, "all" for the cross-room variant).
func NewPoller(sink EventSink, source MessageSource, userID int, roomIDs []int, kind string, cfg Config) *Poller {
	return &Poller{
		sink:       sink,
		source:     source,
		userID:     userID,
		roomIDs:    roomIDs,
		kind:       kind,
		cfg:        cfg.withDefaults(),
		watermark:  time.Now(),
		seen:       make(map[int]time.Time),
		lastUnread: -1,
	}
}

// State returns the connection state.
func (p *Poller) State() int32 {
	return p.state.Load()
}

// Run emits the connected event and polls until cancellation or the lifetime
// deadline. It blocks; callers run it in its own goroutine, one per
// connection, so a slow query on one feed never starves another.
func (p *Poller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer p.Close()

	if err := p.sink.Send(models.FeedEvent{Type: models.EventConnected}); err != nil {
		return
	}
	p.state.Store(StateOpen)
	observability.IncFeedEvent(p.kind, models.EventConnected)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.cfg.Lifetime)
	defer deadline.Stop()

	// Tick work runs inline, so ticks never overlap; time.Ticker drops
	// intervals that elapse while a slow tick is still in flight.
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if !p.tick(ctx) {
				return
			}
		}
	}
}

// Close stops the poller and closes the sink. Safe to call more than once and
// from any goroutine; the second call is a no-op.
func (p *Poller) Close() {
	p.closeOnce.Do(func() {
		p.state.Store(StateClosing)
		if p.cancel != nil {
			p.cancel()
		}
		if err := p.sink.Close(); err != nil {
			log.Printf("feed sink close error: %v", err)
		}
		p.state.Store(StateClosed)
	})
}

// tick performs one poll. Any error or panic counts as "no new data this
// tick"; only a dead sink (false return) ends the connection.
func (p *Poller) tick(ctx context.Context) (alive bool) {
	alive = true
	defer func() {
		if r := recover(); r != nil {
			log.Printf("feed tick panic recovered: %v", r)
			observability.IncFeedTickError()
			alive = true
		}
	}()

	cutoff := p.watermark.Add(-p.cfg.Overlap)
	msgs, err := p.source.ListSince(ctx, p.roomIDs, cutoff, p.userID)
	if err != nil {
		observability.IncFeedTickError()
		return true
	}

	for _, msg := range msgs {
		if _, dup := p.seen[msg.ID]; dup {
			continue
		}
		if err := p.sink.Send(models.NewMessageEvent(msg)); err != nil {
			return false
		}
		p.seen[msg.ID] = msg.CreatedAt
		if msg.CreatedAt.After(p.watermark) {
			p.watermark = msg.CreatedAt
		}
		observability.IncFeedEvent(p.kind, models.EventNewMessage)
	}
	p.pruneSeen()

	total := 0
	for _, roomID := range p.roomIDs {
		count, err := p.source.UnreadCount(ctx, roomID, p.userID)
		if err != nil {
			observability.IncFeedTickError()
			return true
		}
		total += count
	}
	if total != p.lastUnread {
		if err := p.sink.Send(models.UnreadUpdateEvent(total)); err != nil {
			return false
		}
		p.lastUnread = total
		observability.IncFeedEvent(p.kind, models.EventUnreadUpdate)
	}
	return true
}

// pruneSeen drops dedup entries that fell behind the overlap window; the next
// query can no longer return them.
func (p *Poller) pruneSeen() {
	cutoff := p.watermark.Add(-p.cfg.Overlap)
	for id, createdAt := range p.seen {
		if createdAt.Before(cutoff) {
			delete(p.seen, id)
		}
	}
}
