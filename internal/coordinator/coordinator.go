package coordinator

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
	"github.com/DanielHighETH/trenchcord-sub000/internal/gateway"
)

const (
	// DedupWindow is how long a forwarded message id is remembered.
	DedupWindow = 10 * time.Second
	// DedupCapacity caps the dedup map regardless of the window.
	DedupCapacity = 5000
	// backfillBatch bounds concurrent history fetches.
	backfillBatch = 3
)

// Coordinator owns one gateway session per credential, merges their
// directories, and re-emits a single deduplicated event stream.
type Coordinator struct {
	sessions []*gateway.Session
	handle   core.Handler

	mu   sync.Mutex
	seen map[string]time.Time

	sweepStop chan struct{}
	stopOnce  sync.Once

	// DedupDropped, when set, is called once per suppressed duplicate.
	DedupDropped func()
}

// New builds a coordinator with one session per config. Sessions are created
// immediately; Start launches them together.
func New(cfgs []gateway.Config, h core.Handler) *Coordinator {
	c := &Coordinator{
		handle:    h,
		seen:      make(map[string]time.Time),
		sweepStop: make(chan struct{}),
	}
	for _, cfg := range cfgs {
		c.sessions = append(c.sessions, gateway.New(cfg, c.onEvent))
	}
	return c
}

// Sessions returns the owned sessions in credential order.
func (c *Coordinator) Sessions() []*gateway.Session {
	return c.sessions
}

// Start launches every session and the dedup sweeper.
func (c *Coordinator) Start(ctx context.Context) {
	for _, s := range c.sessions {
		s := s
		go func() {
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("coordinator: session %s exited: %v", s.Tag(), err)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(DedupWindow)
		defer ticker.Stop()
		for {
			select {
			case <-c.sweepStop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(time.Now())
			}
		}
	}()
}

// Disconnect stops the dedup sweeper and disconnects every owned session.
// Safe to call more than once.
func (c *Coordinator) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.sweepStop)
	})
	for _, s := range c.sessions {
		s.Disconnect()
	}
}

func (c *Coordinator) onEvent(ev core.Event) {
	switch e := ev.(type) {
	case core.MessageEvent:
		if !c.firstSight("m:" + e.Msg.ID) {
			return
		}
	case core.MessageUpdateEvent:
		if !c.firstSight("u:" + e.Msg.ID) {
			return
		}
	}
	if c.handle != nil {
		c.handle(ev)
	}
}

// firstSight records the key and reports whether it was unseen. Duplicates
// inside the window are dropped silently.
func (c *Coordinator) firstSight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[key]; dup {
		if c.DedupDropped != nil {
			c.DedupDropped()
		}
		return false
	}
	c.seen[key] = time.Now()
	return true
}

// sweep evicts entries older than the window, then trims the map back to
// capacity oldest-first.
func (c *Coordinator) sweep(now time.Time) {
	cutoff := now.Add(-DedupWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, ts := range c.seen {
		if ts.Before(cutoff) {
			delete(c.seen, key)
		}
	}

	if len(c.seen) <= DedupCapacity {
		return
	}

	type entry struct {
		key string
		ts  time.Time
	}
	entries := make([]entry, 0, len(c.seen))
	for key, ts := range c.seen {
		entries = append(entries, entry{key, ts})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })
	for _, e := range entries[:len(entries)-DedupCapacity] {
		delete(c.seen, e.key)
	}
}

/***************
 * Merged directory queries
 ***************/

// Guilds returns, per guild id, the most complete view any session has: the
// one with the largest channel list wins.
func (c *Coordinator) Guilds() map[string]core.GuildInfo {
	merged := make(map[string]core.GuildInfo)
	for _, s := range c.sessions {
		for id, info := range s.Guilds() {
			if existing, ok := merged[id]; ok && len(existing.Channels) >= len(info.Channels) {
				continue
			}
			merged[id] = info
		}
	}
	return merged
}

// DMChannels returns the union of all sessions' DM directories; the first
// session to know a channel wins.
func (c *Coordinator) DMChannels() map[string]core.DMChannel {
	merged := make(map[string]core.DMChannel)
	for _, s := range c.sessions {
		for id, dm := range s.DMChannels() {
			if _, ok := merged[id]; !ok {
				merged[id] = dm
			}
		}
	}
	return merged
}

func (c *Coordinator) ChannelName(channelID string) string {
	for _, s := range c.sessions {
		if name, ok := s.ChannelName(channelID); ok {
			return name
		}
	}
	return gateway.UnknownName
}

func (c *Coordinator) GuildForChannel(channelID string) string {
	for _, s := range c.sessions {
		if id, ok := s.GuildForChannel(channelID); ok {
			return id
		}
	}
	return ""
}

func (c *Coordinator) GuildName(guildID string) string {
	for _, s := range c.sessions {
		if name, ok := s.GuildName(guildID); ok {
			return name
		}
	}
	return gateway.UnknownName
}

func (c *Coordinator) RoleName(roleID string) string {
	for _, s := range c.sessions {
		if name, ok := s.RoleName(roleID); ok {
			return name
		}
	}
	return gateway.UnknownName
}

/***************
 * Read fan-in
 ***************/

// FetchChannelMessages delegates the history read to whichever session
// recognizes the channel, falling back to the first session.
func (c *Coordinator) FetchChannelMessages(ctx context.Context, channelID string, limit int) ([]core.Message, error) {
	if len(c.sessions) == 0 {
		return nil, errors.New("coordinator: no sessions")
	}
	target := c.sessions[0]
	for _, s := range c.sessions {
		if s.Knows(channelID) {
			target = s
			break
		}
	}
	return target.FetchRecentMessages(ctx, channelID, limit)
}

// BackfillHistory fetches recent messages for many channels in fixed-size
// batches, awaiting each batch before issuing the next.
func (c *Coordinator) BackfillHistory(ctx context.Context, channelIDs []string, limit int) map[string][]core.Message {
	out := make(map[string][]core.Message, len(channelIDs))
	var outMu sync.Mutex

	for start := 0; start < len(channelIDs); start += backfillBatch {
		end := start + backfillBatch
		if end > len(channelIDs) {
			end = len(channelIDs)
		}

		var wg sync.WaitGroup
		for _, channelID := range channelIDs[start:end] {
			channelID := channelID
			wg.Add(1)
			go func() {
				defer wg.Done()
				msgs, err := c.FetchChannelMessages(ctx, channelID, limit)
				if err != nil {
					log.Printf("coordinator: backfill %s: %v", channelID, err)
					return
				}
				outMu.Lock()
				out[channelID] = msgs
				outMu.Unlock()
			}()
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}
	return out
}
