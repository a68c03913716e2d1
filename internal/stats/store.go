package stats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Store routes all operations for a session to a single long-lived cell,
// selected by a deterministic derivation of the session id. The cell is
// the only writer of its counters, which makes read-modify-write safe
// without cross-session contention.
type Store struct {
	backend Backend
	mu      sync.Mutex
	cells   map[string]*cell
	now     func() time.Time
}

// cell owns the counters of one session. Its mutex serializes every
// Record and Get against the same session.
type cell struct {
	mu      sync.Mutex
	key     string
	backend Backend
	loaded  bool
	current SessionStats
}

// NewStore creates a stats store over the given durable backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		cells:   make(map[string]*cell),
		now:     time.Now,
	}
}

// deriveKey maps a session id to its cell's stable storage key.
func deriveKey(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}

func (s *Store) cellFor(sessionID string) *cell {
	key := deriveKey(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cells[key]
	if !ok {
		c = &cell{key: key, backend: s.backend}
		s.cells[key] = c
	}
	return c
}

// Record applies one chat-turn notification to a session's counters and
// persists the full record before returning.
func (s *Store) Record(ctx context.Context, sessionID string, delta Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := s.cellFor(sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		return err
	}

	c.current.apply(delta, s.now())

	data, err := json.Marshal(c.current)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := c.backend.Put(c.key, data); err != nil {
		return fmt.Errorf("persist stats: %w", err)
	}
	return nil
}

// Get returns the current counters for a session, or the all-zero record
// with null timestamps if nothing was ever recorded. Get does not mutate.
func (s *Store) Get(ctx context.Context, sessionID string) (SessionStats, error) {
	if err := ctx.Err(); err != nil {
		return Zero(), err
	}

	c := s.cellFor(sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		return Zero(), err
	}

	return c.snapshot(), nil
}

// load pulls the durable value into the cell once. Must hold c.mu.
func (c *cell) load() error {
	if c.loaded {
		return nil
	}

	data, found, err := c.backend.Get(c.key)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}

	c.current = Zero()
	if found {
		if err := json.Unmarshal(data, &c.current); err != nil {
			// A corrupt cell restarts at zero rather than wedging the
			// session's analytics forever.
			log.Printf("stats: discarding corrupt record for cell %s: %v", c.key, err)
			c.current = Zero()
		}
		if c.current.Models == nil {
			c.current.Models = map[string]int{}
		}
	}

	c.loaded = true
	return nil
}

// snapshot copies the current record so callers cannot mutate cell
// state through the returned maps. Must hold c.mu.
func (c *cell) snapshot() SessionStats {
	out := c.current
	out.Models = make(map[string]int, len(c.current.Models))
	for m, n := range c.current.Models {
		out.Models[m] = n
	}
	if c.current.CreatedAt != nil {
		created := *c.current.CreatedAt
		out.CreatedAt = &created
	}
	if c.current.UpdatedAt != nil {
		updated := *c.current.UpdatedAt
		out.UpdatedAt = &updated
	}
	return out
}
