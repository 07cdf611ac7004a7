// Package commandqueue serializes work into named lanes with per-lane
// concurrency limits. Chat turns for one session share a lane so they
// never interleave, while report runs get a wider lane of their own.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default lanes. Additional lanes are created on first use with
// concurrency 1.
const (
	LaneChat   = "chat"
	LaneReport = "report"
)

// Task is one unit of queued work.
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions tunes a single enqueue.
type TaskOptions struct {
	// WarnAfter logs and invokes OnWait when the task is still queued
	// after this long. Zero disables the warning.
	WarnAfter time.Duration
	OnWait    func(waited time.Duration, queuePos int)
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	mu          sync.Mutex
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
}

// Queue is the lane-based task runner.
type Queue struct {
	mu        sync.RWMutex
	lanes     map[string]*laneState
	taskIDSeq int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	log       zerolog.Logger
}

// New creates a queue with the default chat and report lanes.
func New(logger zerolog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
	}
	q.initLane(LaneChat, 1)
	q.initLane(LaneReport, 2)
	return q
}

func (q *Queue) initLane(lane string, concurrency int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.lanes[lane]; !exists {
		q.lanes[lane] = &laneState{concurrency: concurrency}
		q.log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
}

func (q *Queue) ensureLane(lane string) *laneState {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if exists {
		return ls
	}

	q.initLane(lane, 1)
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.lanes[lane]
}

// Enqueue queues a task on a lane and blocks until it finishes.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ls := q.ensureLane(lane)

	q.mu.Lock()
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	q.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	ls.mu.Lock()
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		generation: ls.generation,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	q.log.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	if opts.WarnAfter > 0 {
		go q.startWarnTimer(ls, record, lane)
	}

	go q.processLane(lane, ls)

	result := <-record.result
	return result.value, result.err
}

func (q *Queue) processLane(lane string, ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		// Stale tasks from before a reset are rejected, not run.
		if record.generation != ls.generation {
			record.result <- taskResult{err: fmt.Errorf("task cancelled by lane reset")}
			close(record.result)
			continue
		}

		ls.running++
		q.wg.Add(1)
		go q.executeTask(lane, ls, record)
	}
}

func (q *Queue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	elapsed := time.Since(start)

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		q.log.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", elapsed).
			Err(err).
			Msg("Task failed")
	} else {
		q.log.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", elapsed).
			Msg("Task completed")
	}

	go q.processLane(lane, ls)
}

func (q *Queue) startWarnTimer(ls *laneState, record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			waited := time.Since(record.enqueuedAt)
			q.log.Warn().
				Str("lane", lane).
				Str("task_id", record.id).
				Dur("waited", waited).
				Int("queue_pos", queuePos).
				Msg("Task waiting longer than expected")
			if record.options.OnWait != nil {
				record.options.OnWait(waited, queuePos)
			}
		}
	case <-q.ctx.Done():
	}
}

// QueueSize returns how many tasks are waiting on a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// RunningCount returns how many tasks a lane is executing right now.
func (q *Queue) RunningCount(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats reports queued, running, and concurrency per lane.
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int, len(q.lanes))
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// ResetLane bumps a lane's generation, rejecting everything still queued.
// Running tasks are left to finish.
func (q *Queue) ResetLane(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++
	rejected := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: fmt.Errorf("task cancelled by lane reset")}
		close(record.result)
	}
	ls.queue = nil

	q.log.Info().Str("lane", lane).Int("rejected", rejected).Msg("Lane reset")
	return rejected
}

// SetConcurrency changes a lane's parallelism, creating the lane if
// needed.
func (q *Queue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	ls := q.ensureLane(lane)

	ls.mu.Lock()
	old := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	q.log.Info().
		Str("lane", lane).
		Int("old", old).
		Int("new", concurrency).
		Msg("Lane concurrency updated")

	if concurrency > old {
		go q.processLane(lane, ls)
	}
}

// Close cancels in-flight task contexts and waits for them to return.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
