package state

import (
	"log"
	"sync"
	"time"
)

// Checkpointer persists snapshots asynchronously so that scheduling never
// waits on disk. Submissions coalesce: only the most recent snapshot is
// pending at any time, and writes for one project happen in submission
// order on a single worker goroutine.
type Checkpointer struct {
	store *FileStore

	mu      sync.Mutex
	pending *Snapshot
	notify  chan struct{}
	closed  bool

	wg sync.WaitGroup

	// retries and retryDelay govern recovery from write failures. A failed
	// write is retried; the in-memory snapshot is never discarded silently.
	retries    int
	retryDelay time.Duration

	logf func(format string, args ...interface{})
}

// NewCheckpointer starts the worker goroutine for one project's file store.
func NewCheckpointer(store *FileStore) *Checkpointer {
	c := &Checkpointer{
		store:      store,
		notify:     make(chan struct{}, 1),
		retries:    3,
		retryDelay: 500 * time.Millisecond,
		logf:       log.Printf,
	}
	c.wg.Add(1)
	go c.worker()
	return c
}

// Submit queues a snapshot for writing. It never blocks: a newer snapshot
// replaces any still-pending one.
func (c *Checkpointer) Submit(snap *Snapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = snap
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Close flushes any pending snapshot and stops the worker.
func (c *Checkpointer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.notify)
	c.wg.Wait()
}

func (c *Checkpointer) worker() {
	defer c.wg.Done()

	for range c.notify {
		c.flush()
	}
	// Drain whatever arrived between the last flush and Close.
	c.flush()
}

func (c *Checkpointer) flush() {
	c.mu.Lock()
	snap := c.pending
	c.pending = nil
	c.mu.Unlock()

	if snap == nil {
		return
	}

	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.retryDelay)
		}
		if err = c.write(snap); err == nil {
			return
		}
	}

	// Out of retries; requeue so the next checkpoint carries this state
	// forward unless a newer snapshot has already replaced it.
	c.logf("checkpoint write failed after %d retries: %v", c.retries, err)
	c.mu.Lock()
	if c.pending == nil && !c.closed {
		c.pending = snap
	}
	c.mu.Unlock()
}

// write persists the authoritative backlog document first, then the full
// session snapshot, so a crash between the two leaves the source of truth
// newest on disk.
func (c *Checkpointer) write(snap *Snapshot) error {
	doc := &BacklogDoc{Epics: snap.Epics, Stories: snap.Stories}
	if err := c.store.SaveBacklog(doc); err != nil {
		return err
	}
	return c.store.SaveSnapshot(snap)
}
