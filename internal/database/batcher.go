package database

import (
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	batchSize     = 1000
	flushInterval = 500 * time.Millisecond
	bufferSize    = 5000
)

// CallUpdateBatcher coalesces high-frequency lifecycle-status writes (the
// ringing/in-progress events of §4.6) into periodic bulk UPDATEs, adapted
// from apicall's LogBatcher. Completion writes bypass the batcher entirely
// and go through Repository.CompleteCall, since they must observe their
// result synchronously.
type CallUpdateBatcher struct {
	db      *sql.DB
	updates chan lifecycleUpdate
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type lifecycleUpdate struct {
	ExecutionID string
	Status      string
}

// NewCallUpdateBatcher constructs a batcher bound to db.
func NewCallUpdateBatcher(db *sql.DB) *CallUpdateBatcher {
	return &CallUpdateBatcher{
		db:      db,
		updates: make(chan lifecycleUpdate, bufferSize),
		done:    make(chan struct{}),
	}
}

// Start launches the background flush worker. Safe to call once.
func (b *CallUpdateBatcher) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.wg.Add(1)
	b.mu.Unlock()

	go b.worker()
}

// Stop flushes any buffered updates and stops the worker.
func (b *CallUpdateBatcher) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.updates)
	b.wg.Wait()
}

// QueueLifecycleUpdate enqueues a status transition for the next flush. If
// the buffer is full the update is dropped; lifecycle events are advisory
// and the completion webhook is the source of truth (§4.6).
func (b *CallUpdateBatcher) QueueLifecycleUpdate(executionID, status string) {
	select {
	case b.updates <- lifecycleUpdate{ExecutionID: executionID, Status: status}:
	default:
		log.Warn().Str("execution_id", executionID).Msg("call update batcher buffer full, dropping update")
	}
}

func (b *CallUpdateBatcher) worker() {
	defer b.wg.Done()

	buffer := make([]lifecycleUpdate, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-b.updates:
			if !ok {
				if len(buffer) > 0 {
					b.flush(buffer)
				}
				return
			}
			buffer = append(buffer, u)
			if len(buffer) >= batchSize {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

// flush applies the buffered updates with a single parameterized statement,
// matching each execution_id against its status via Postgres' UNNEST rather
// than building per-row CASE clauses by hand.
func (b *CallUpdateBatcher) flush(updates []lifecycleUpdate) {
	if len(updates) == 0 {
		return
	}

	ids := make([]string, len(updates))
	statuses := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ExecutionID
		statuses[i] = u.Status
	}

	start := time.Now()
	const q = `
		UPDATE calls AS c
		SET lifecycle_status = v.status, updated_at = now()
		FROM (SELECT unnest($1::text[]) AS execution_id, unnest($2::text[]) AS status) AS v
		WHERE c.execution_id = v.execution_id
	`
	if _, err := b.db.Exec(q, ids, statuses); err != nil {
		log.Error().Err(err).Int("count", len(updates)).Msg("call update batcher flush failed")
		return
	}
	log.Debug().Int("count", len(updates)).Dur("elapsed", time.Since(start)).Msg("flushed call lifecycle updates")
}
