// Package dispatcher implements the priority rate-limited dispatcher: a
// single-goroutine cooperative actor that owns a set of per-bucket queues,
// drains them under a minimum-spacing rule, and periodically checkpoints
// its residual state so a restart can resume without losing work.
//
// The mailbox-channel-plus-reply-channel shape is the Go analog of the
// spec's cooperative-scheduler/signal design: every command is delivered
// over a channel and processed strictly between two suspension points of
// the run loop, so handlers never need locks.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pivox/tradingV3/internal/envelope"
	"github.com/pivox/tradingV3/internal/httpactivity"
	"github.com/pivox/tradingV3/internal/metrics"
	"github.com/pivox/tradingV3/internal/priority"
)

const (
	Tick              = 200 * time.Millisecond
	MinSpacing        = 1 * time.Second
	DrainBatch        = 1
	MaxItemsPerRun    = 400
	MaxRunSeconds     = 900
	checkpointPeriod  = 5 * time.Second
	commandBufferSize = 64
)

// ErrClosed reports a closed worker. Submit does not return it: a submit
// after Close is dropped and Submit returns nil.
var ErrClosed = errors.New("dispatcher: worker is closed")

// DispatchFunc invokes the outbound HTTP activity for one envelope.
type DispatchFunc func(ctx context.Context, payload map[string]any) httpactivity.Result

// Stats is the query-surface response shape from spec.md §4.3.
type Stats struct {
	ProcessedInRun int                    `json:"processed_in_run"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
	PerBucket      map[priority.Bucket]int `json:"per_bucket"`
	Paused         []priority.Bucket      `json:"paused"`
	ActiveOrder    []priority.Bucket      `json:"active_order"`
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdClose
	cmdPauseBuckets
	cmdResumeBuckets
	cmdSetPriorityOrder
	cmdQueueSize
	cmdStats
)

type command struct {
	kind  commandKind
	items map[priority.Bucket][]map[string]any
	order []priority.Bucket
	labels []priority.Bucket
	reply chan any
}

// Worker is the PRD actor. Construct with New, then run it with Run in its
// own goroutine; all other interaction happens through the exported
// methods, which are safe to call from any goroutine.
type Worker struct {
	name       string
	mailbox    chan command
	dispatch   DispatchFunc
	checkpoint CheckpointStore
	log        zerolog.Logger

	order  *priority.Config
	queues map[priority.Bucket][]*envelope.Envelope
	paused map[priority.Bucket]struct{}

	closed         bool
	processedInRun int
	runStart       time.Time
	lastDispatch   time.Time

	done chan struct{}
}

// New constructs a Worker. If store has a saved checkpoint under name, the
// worker resumes from it; otherwise it starts with empty queues in the
// default priority order.
func New(name string, store CheckpointStore, dispatch DispatchFunc, log zerolog.Logger) *Worker {
	w := &Worker{
		name:       name,
		mailbox:    make(chan command, commandBufferSize),
		dispatch:   dispatch,
		checkpoint: store,
		log:        log.With().Str("worker", name).Logger(),
		order:      priority.NewDefault(),
		queues:     make(map[priority.Bucket][]*envelope.Envelope),
		paused:     make(map[priority.Bucket]struct{}),
		runStart:   time.Now(),
		done:       make(chan struct{}),
	}

	if store != nil {
		if cp, ok, err := store.Load(context.Background(), name); err != nil {
			w.log.Warn().Err(err).Msg("failed to load checkpoint, starting empty")
		} else if ok {
			w.restoreFrom(cp)
		}
	}
	return w
}

func (w *Worker) restoreFrom(cp *Checkpoint) {
	if len(cp.Order) > 0 {
		if err := w.order.Reorder(cp.Order); err == nil {
			// accepted
		}
	}
	for _, b := range cp.Paused {
		w.paused[b] = struct{}{}
	}
	for b, items := range cp.Queues {
		for _, m := range items {
			if env, err := envelope.FromMapping(m); err == nil {
				w.queues[b] = append(w.queues[b], env)
			}
		}
	}
}

// Run executes the tick loop until Close is called and the queue drains.
// It must be called exactly once, typically via `go worker.Run(ctx)`.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(Tick)
	defer ticker.Stop()

	checkpointTicker := time.NewTicker(checkpointPeriod)
	defer checkpointTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.mailbox:
			w.handleCommand(cmd)
			if w.closed && w.totalQueueSize() == 0 {
				return
			}
		case <-checkpointTicker.C:
			w.saveCheckpoint(ctx)
		case <-ticker.C:
			w.tick(ctx)
			if w.closed && w.totalQueueSize() == 0 {
				return
			}
		}
	}
}

// tick runs one iteration of the algorithm in spec.md §4.3.
func (w *Worker) tick(ctx context.Context) {
	if w.totalQueueSize() == 0 {
		return
	}
	now := time.Now()
	if !w.lastDispatch.IsZero() && now.Sub(w.lastDispatch) < MinSpacing {
		return
	}

	bucket, ok := priority.NextNonEmpty(w.order.Order(), func(b priority.Bucket) int {
		return len(w.queues[b])
	}, w.paused)
	if !ok {
		return
	}

	for i := 0; i < DrainBatch; i++ {
		q := w.queues[bucket]
		if len(q) == 0 {
			break
		}
		env := q[0]
		w.queues[bucket] = q[1:]

		dispatchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		result := w.dispatch(dispatchCtx, env.ToDispatchPayload())
		cancel()
		if result.Status != "ok" {
			w.log.Warn().
				Str("bucket", string(bucket)).
				Str("callback_url", result.CallbackURL).
				Str("message", result.Message).
				Msg("dispatch activity reported failure; not requeued")
			metrics.DispatcherDispatchFailuresTotal.WithLabelValues(string(bucket)).Inc()
		}
		metrics.DispatcherDispatchedTotal.WithLabelValues(string(bucket)).Inc()
		metrics.DispatcherQueueSize.WithLabelValues(string(bucket)).Set(float64(len(w.queues[bucket])))

		w.lastDispatch = time.Now()
		w.processedInRun++

		if w.processedInRun >= MaxItemsPerRun || time.Since(w.runStart) >= MaxRunSeconds*time.Second {
			w.rotate(ctx)
		}
	}
}

// rotate performs the "continue-as-new" checkpoint: residual queues are
// serialized, counters reset, external identity (w.name) preserved.
func (w *Worker) rotate(ctx context.Context) {
	w.saveCheckpoint(ctx)
	w.processedInRun = 0
	w.runStart = time.Now()
	metrics.DispatcherRotationTotal.Inc()
}

func (w *Worker) saveCheckpoint(ctx context.Context) {
	if w.checkpoint == nil {
		return
	}
	cp := w.snapshotCheckpoint()
	if err := w.checkpoint.Save(ctx, w.name, cp); err != nil {
		w.log.Error().Err(err).Msg("failed to save checkpoint")
	}
}

func (w *Worker) snapshotCheckpoint() *Checkpoint {
	queues := make(map[priority.Bucket][]map[string]any, len(w.queues))
	for b, envs := range w.queues {
		items := make([]map[string]any, 0, len(envs))
		for _, e := range envs {
			items = append(items, e.ToDispatchPayload())
		}
		queues[b] = items
	}
	paused := make([]priority.Bucket, 0, len(w.paused))
	for b := range w.paused {
		paused = append(paused, b)
	}
	return &Checkpoint{Queues: queues, Paused: paused, Order: w.order.Order()}
}

func (w *Worker) totalQueueSize() int {
	total := 0
	for _, q := range w.queues {
		total += len(q)
	}
	return total
}

func (w *Worker) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		w.handleSubmit(cmd)
	case cmdClose:
		w.closed = true
		cmd.reply <- struct{}{}
	case cmdPauseBuckets:
		for _, b := range cmd.labels {
			if w.order.IsKnown(b) {
				w.paused[b] = struct{}{}
			}
		}
		cmd.reply <- struct{}{}
	case cmdResumeBuckets:
		for _, b := range cmd.labels {
			delete(w.paused, b)
		}
		cmd.reply <- struct{}{}
	case cmdSetPriorityOrder:
		err := w.order.Reorder(cmd.order)
		cmd.reply <- err
	case cmdQueueSize:
		cmd.reply <- w.totalQueueSize()
	case cmdStats:
		cmd.reply <- w.buildStats()
	}
}

func (w *Worker) handleSubmit(cmd command) {
	if w.closed {
		cmd.reply <- (error)(nil)
		return
	}
	for bucket, items := range cmd.items {
		if !w.order.IsKnown(bucket) {
			cmd.reply <- &envelope.BadInputError{Msg: "dispatcher: unknown bucket " + string(bucket)}
			return
		}
		for _, m := range items {
			if _, err := envelope.FromMapping(m); err != nil {
				cmd.reply <- err
				return
			}
		}
	}
	// validated; now mutate
	for bucket, items := range cmd.items {
		for _, m := range items {
			env, _ := envelope.FromMapping(m)
			w.queues[bucket] = append(w.queues[bucket], env)
		}
		metrics.DispatcherQueueSize.WithLabelValues(string(bucket)).Set(float64(len(w.queues[bucket])))
	}
	cmd.reply <- (error)(nil)
}

func (w *Worker) buildStats() Stats {
	perBucket := make(map[priority.Bucket]int, len(w.queues))
	for b, q := range w.queues {
		perBucket[b] = len(q)
	}
	paused := make([]priority.Bucket, 0, len(w.paused))
	for b := range w.paused {
		paused = append(paused, b)
	}
	return Stats{
		ProcessedInRun: w.processedInRun,
		ElapsedSeconds: time.Since(w.runStart).Seconds(),
		PerBucket:      perBucket,
		Paused:         paused,
		ActiveOrder:    w.order.Order(),
	}
}

// Submit enqueues a batch of bucket-partitioned envelope mappings. After
// Close the batch is dropped silently and Submit returns nil. If any bucket
// or envelope fails validation it returns a BadInputError and enqueues
// nothing.
func (w *Worker) Submit(items map[priority.Bucket][]map[string]any) error {
	reply := make(chan any, 1)
	w.mailbox <- command{kind: cmdSubmit, items: items, reply: reply}
	err, _ := (<-reply).(error)
	return err
}

// Close sets the closed flag; the run terminates once the queue drains.
func (w *Worker) Close() {
	reply := make(chan any, 1)
	w.mailbox <- command{kind: cmdClose, reply: reply}
	<-reply
}

func (w *Worker) PauseBuckets(labels []priority.Bucket) {
	reply := make(chan any, 1)
	w.mailbox <- command{kind: cmdPauseBuckets, labels: labels, reply: reply}
	<-reply
}

func (w *Worker) ResumeBuckets(labels []priority.Bucket) {
	reply := make(chan any, 1)
	w.mailbox <- command{kind: cmdResumeBuckets, labels: labels, reply: reply}
	<-reply
}

func (w *Worker) SetPriorityOrder(order []priority.Bucket) error {
	reply := make(chan any, 1)
	w.mailbox <- command{kind: cmdSetPriorityOrder, order: order, reply: reply}
	err, _ := (<-reply).(error)
	return err
}

func (w *Worker) QueueSize() int {
	reply := make(chan any, 1)
	w.mailbox <- command{kind: cmdQueueSize, reply: reply}
	return (<-reply).(int)
}

func (w *Worker) QueryStats() Stats {
	reply := make(chan any, 1)
	w.mailbox <- command{kind: cmdStats, reply: reply}
	return (<-reply).(Stats)
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }
