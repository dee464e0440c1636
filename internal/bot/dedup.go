package bot

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hpungsan/namecall/internal/transport"
)

// DefaultDedupCapacity bounds the processed-event set.
const DefaultDedupCapacity = 200

// Deduplicator admits each inbound event at most once. Keys are never
// re-added, so LRU eviction drops the oldest-inserted key first.
type Deduplicator struct {
	seen       *lru.Cache[string, struct{}]
	staleAfter int64 // seconds, 0 disables
	// lastAdmitted starts at construction so history replayed on connect is stale.
	lastAdmitted int64
	now          func() time.Time
}

// NewDeduplicator creates a deduplicator. staleAfter <= 0 disables the
// staleness check.
func NewDeduplicator(capacity int, staleAfter time.Duration) (*Deduplicator, error) {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	seen, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("event deduper init: %w", err)
	}
	d := &Deduplicator{
		seen:       seen,
		staleAfter: int64(staleAfter / time.Second),
		now:        time.Now,
	}
	d.lastAdmitted = d.now().Unix()
	return d, nil
}

// Admit reports whether ev should be handled, recording it when it is.
func (d *Deduplicator) Admit(ev transport.Event) bool {
	if ev.FromSelf || strings.TrimSpace(ev.Text) == "" {
		return false
	}

	key := eventKey(ev)
	if d.seen.Contains(key) {
		return false
	}

	if d.staleAfter > 0 {
		age := d.now().Unix() - ev.Timestamp
		if age > d.staleAfter && ev.Timestamp <= d.lastAdmitted {
			return false
		}
	}

	d.seen.Add(key, struct{}{})
	if ev.Timestamp > d.lastAdmitted {
		d.lastAdmitted = ev.Timestamp
	}
	return true
}

// Len returns the number of remembered keys.
func (d *Deduplicator) Len() int {
	return d.seen.Len()
}

func eventKey(ev transport.Event) string {
	return fmt.Sprintf("%s-%s-%d", ev.ChatID, ev.MessageID, ev.Timestamp)
}
