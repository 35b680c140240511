package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	apperrors "github.com/nocturnelabs/photomanifest/errors"
)

// Logger is the narrow structured-logging surface the coordinator needs;
// hooks.SlogLogger satisfies it.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

// workerConn is the coordinator's view of a spawned worker: frames flow
// over In/Out, and Wait blocks until the underlying process exits (real
// child process in production, a goroutine-backed Worker in tests).
type workerConn struct {
	id   string
	in   io.Writer // coordinator writes batch-task/shutdown/ping here
	out  io.Reader // coordinator reads ready/pong/batch-result here
	wait func() error
	kill func()
}

// spawnFunc creates one worker connection. The production implementation
// spawns os.Executable() as a child process; tests inject an in-memory
// pipe pair wired to a cluster.Worker goroutine instead.
type spawnFunc func(workerID string) (*workerConn, error)

// Coordinator owns the task queue and result aggregator described in
// spec.md §4.6, generalizing the teacher's core.Processor worker pool
// (jobQueue chan + sync.WaitGroup + shutdown chan, core/processor.go) from
// goroutines over a channel to OS processes over framed pipes.
type Coordinator struct {
	Concurrency    int           // K, per-worker intra-process task limit
	MaxWorkers     int           // concurrency config ceiling
	StartupTimeout time.Duration // spec.md §5: 10s default
	Logger         Logger

	spawn spawnFunc
}

// NewCoordinator returns a Coordinator that spawns real child processes of
// the current executable.
func NewCoordinator(concurrency, maxWorkers int, startupTimeout time.Duration, logger Logger) *Coordinator {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Coordinator{
		Concurrency:    concurrency,
		MaxWorkers:     maxWorkers,
		StartupTimeout: startupTimeout,
		Logger:         logger,
	}
	c.spawn = c.spawnProcess
	return c
}

// workersToStart implements spec.md §4.6's sizing formula: never spawn
// more workers than the task count warrants.
func workersToStart(concurrency, maxWorkers, totalTasks int) int {
	if totalTasks == 0 {
		return 0
	}
	k := concurrency
	if k <= 0 {
		k = 1
	}
	needed := (totalTasks + k - 1) / k // ceil(T/K)
	if needed < 1 {
		needed = 1
	}
	if maxWorkers > 0 && needed > maxWorkers {
		return maxWorkers
	}
	return needed
}

// workerState is the coordinator's private bookkeeping for one live
// worker: its connection, in-flight task refs (for crash re-queue), and
// whether a graceful shutdown was already requested.
type workerState struct {
	conn         *workerConn
	pendingCount int
	inFlight     []TaskRef
	ready        bool
	shuttingDown bool
}

// event is what a per-worker reader goroutine feeds into the coordinator's
// single event loop — the only place taskQueue/results/pendingCount are
// touched, matching spec.md §9's shared-resource policy.
type event struct {
	workerID string
	kind     Kind
	body     []byte
	crashed  bool
	err      error
}

// Run dispatches tasks across a freshly spawned worker pool and blocks
// until every task has a result or ctx is cancelled (spec.md §4.6, §4.7
// step 5). Results are returned indexed by TaskIndex.
func (c *Coordinator) Run(ctx context.Context, tasks []Task) ([]TaskOutcome, error) {
	total := len(tasks)
	results := make([]TaskOutcome, total)
	if total == 0 {
		return results, nil
	}

	n := workersToStart(c.Concurrency, c.MaxWorkers, total)

	queue := make([]Task, len(tasks))
	copy(queue, tasks)

	workers := make(map[string]*workerState, n)
	events := make(chan event, 64)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("worker-%d", i)
		conn, err := c.spawn(id)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryWorkerStartup, "cluster.spawn", err)
		}
		ws := &workerState{conn: conn}
		workers[id] = ws
		go c.readLoop(id, conn, events)
		go c.waitLoop(id, conn, events)
	}

	if err := c.awaitStartup(ctx, workers, events, n); err != nil {
		return nil, err
	}
	for id, ws := range workers {
		c.topUp(ws, id, &queue)
	}

	completed := 0
	for completed < total {
		select {
		case <-ctx.Done():
			c.shutdownAll(workers, events)
			return results, ctx.Err()
		case ev := <-events:
			ws, ok := workers[ev.workerID]
			if !ok {
				continue
			}
			if ev.crashed {
				c.handleCrash(ws, &queue)
				c.Logger.Warn("worker.crash", "workerId", ev.workerID, "requeued", len(ws.inFlight))
				ws.inFlight = nil
				ws.pendingCount = 0
				delete(workers, ev.workerID)
				if len(workers) == 0 && len(queue) > 0 {
					return results, apperrors.New(apperrors.CategoryWorkerCrash, "cluster.run",
						fmt.Errorf("all workers crashed with %d tasks still queued", len(queue)))
				}
				// Re-queued work needs a home now: surviving workers may
				// be idle with nothing left to report an event for, so
				// nothing else would trigger a redispatch.
				for id, survivor := range workers {
					c.topUp(survivor, id, &queue)
				}
				continue
			}
			switch ev.kind {
			case KindReady, KindPong:
				ws.ready = true
			case KindBatchResult:
				var msg BatchResultMsg
				if err := json.Unmarshal(ev.body, &msg); err == nil {
					for _, r := range msg.Results {
						idx, ok := parseTaskIndex(r.TaskID)
						if !ok || idx < 0 || idx >= total {
							continue
						}
						results[idx] = toOutcome(r)
						completed++
					}
					ws.pendingCount -= len(msg.Results)
					ws.inFlight = dropCompleted(ws.inFlight, msg.Results)
				}
			}
			c.topUp(ws, ev.workerID, &queue)
		}
	}

	c.shutdownAll(workers, events)
	return results, nil
}

// awaitStartup blocks for the first ready/pong from every spawned worker,
// failing with CategoryWorkerStartup if the 10s window (spec.md §5)
// elapses first.
func (c *Coordinator) awaitStartup(ctx context.Context, workers map[string]*workerState, events chan event, n int) error {
	timeout := c.StartupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.After(timeout)
	readyCount := 0

	for readyCount < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return apperrors.New(apperrors.CategoryWorkerStartup, "cluster.startup", fmt.Errorf("worker pool did not become ready within %s", timeout))
		case ev := <-events:
			ws, ok := workers[ev.workerID]
			if !ok {
				continue
			}
			if ev.crashed {
				return apperrors.New(apperrors.CategoryWorkerStartup, "cluster.startup", fmt.Errorf("worker %s exited during startup", ev.workerID))
			}
			if ev.kind == KindReady && !ws.ready {
				ws.ready = true
				readyCount++
			}
		}
	}
	return nil
}

// topUp assigns min(K - pendingCount, len(queue)) tasks to ws whenever it
// reports ready or returns a batch result (spec.md §4.6 dispatch protocol).
func (c *Coordinator) topUp(ws *workerState, workerID string, queue *[]Task) {
	if !ws.ready || ws.shuttingDown {
		return
	}
	room := c.Concurrency - ws.pendingCount
	if room <= 0 || len(*queue) == 0 {
		return
	}
	if room > len(*queue) {
		room = len(*queue)
	}

	batch := (*queue)[:room]
	*queue = (*queue)[room:]

	refs := make([]TaskRef, len(batch))
	now := time.Now().UnixNano()
	for i, task := range batch {
		id := taskID(workerID, task.TaskIndex, now, i)
		refs[i] = TaskRef{
			TaskID:         id,
			TaskIndex:      task.TaskIndex,
			Object:         task.Object,
			ExistingRecord: task.ExistingRecord,
			LivePhotoVideo: task.LivePhotoVideo,
		}
	}

	if err := writeFrame(ws.conn.in, KindBatchTask, BatchTaskMsg{WorkerID: workerID, Tasks: refs}); err != nil {
		// The worker is presumed dead; re-queue to the front using a fresh
		// backing array, since batch and the remaining *queue alias the
		// same underlying array and an in-place append would corrupt it.
		restored := make([]Task, 0, len(batch)+len(*queue))
		restored = append(restored, batch...)
		restored = append(restored, (*queue)...)
		*queue = restored
		return
	}
	ws.pendingCount += len(refs)
	ws.inFlight = append(ws.inFlight, refs...)
}

// handleCrash re-queues a crashed worker's in-flight batch to the front of
// queue (spec.md §9's open-question resolution, recorded in DESIGN.md).
func (c *Coordinator) handleCrash(ws *workerState, queue *[]Task) {
	if len(ws.inFlight) == 0 {
		return
	}
	restored := make([]Task, len(ws.inFlight))
	for i, ref := range ws.inFlight {
		restored[i] = Task{
			TaskIndex:      ref.TaskIndex,
			Object:         ref.Object,
			ExistingRecord: ref.ExistingRecord,
			LivePhotoVideo: ref.LivePhotoVideo,
		}
	}
	*queue = append(restored, *queue...)
}

// shutdownAll asks every worker to exit gracefully, then waits for each to
// report its process exit (observed by waitLoop and delivered on events)
// before force-killing any stragglers after a grace period. Only waitLoop
// ever calls conn.wait, since os/exec.Cmd.Wait must not be called twice.
func (c *Coordinator) shutdownAll(workers map[string]*workerState, events chan event) {
	pending := make(map[string]bool, len(workers))
	for id, ws := range workers {
		ws.shuttingDown = true
		_ = writeFrame(ws.conn.in, KindShutdown, ShutdownMsg{})
		pending[id] = true
	}
	if len(pending) == 0 {
		return
	}

	deadline := time.After(5 * time.Second)
	for len(pending) > 0 {
		select {
		case ev := <-events:
			if ev.crashed {
				delete(pending, ev.workerID)
			}
		case <-deadline:
			for id := range pending {
				if ws, ok := workers[id]; ok {
					ws.conn.kill()
				}
			}
			return
		}
	}
}

// readLoop feeds every frame a worker sends into events and returns on the
// first read error (including a closed pipe); the worker's exit is
// reported separately by waitLoop.
func (c *Coordinator) readLoop(id string, conn *workerConn, events chan<- event) {
	for {
		kind, _, body, err := readFrame(conn.out)
		if err != nil {
			return
		}
		events <- event{workerID: id, kind: kind, body: body}
	}
}

// waitLoop blocks until the worker process exits and then always reports a
// crashed event, whether or not a shutdown was requested for it; Run treats
// it as a crash, and shutdownAll uses it to learn that the worker exited.
func (c *Coordinator) waitLoop(id string, conn *workerConn, events chan<- event) {
	err := conn.wait()
	events <- event{workerID: id, crashed: true, err: err}
}

func toOutcome(r TaskResult) TaskOutcome {
	if r.Type == "error" {
		return TaskOutcome{Outcome: "failed", Err: r.Error}
	}
	return TaskOutcome{Record: r.Record, Outcome: r.Status}
}

func dropCompleted(inFlight []TaskRef, done []TaskResult) []TaskRef {
	if len(inFlight) == len(done) {
		return nil
	}
	doneIDs := make(map[string]bool, len(done))
	for _, r := range done {
		doneIDs[r.TaskID] = true
	}
	out := inFlight[:0]
	for _, ref := range inFlight {
		if !doneIDs[ref.TaskID] {
			out = append(out, ref)
		}
	}
	return out
}

// spawnProcess launches a worker by re-executing the current binary with
// CLUSTER_WORKER=true and the env vars spec.md §4.6/§5 specify, wiring its
// stdin/stdout to frame pipes.
func (c *Coordinator) spawnProcess(workerID string) (*workerConn, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		"CLUSTER_WORKER=true",
		"WORKER_ID="+workerID,
		fmt.Sprintf("WORKER_CONCURRENCY=%d", c.Concurrency),
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &workerConn{
		id:   workerID,
		in:   stdin,
		out:  stdout,
		wait: cmd.Wait,
		kill: func() {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		},
	}, nil
}
