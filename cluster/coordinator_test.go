package cluster

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocturnelabs/photomanifest/codec"
	"github.com/nocturnelabs/photomanifest/model"
	"github.com/nocturnelabs/photomanifest/processor"
	"github.com/nocturnelabs/photomanifest/store/memtest"
	"github.com/nocturnelabs/photomanifest/thumbnail"
)

func TestWorkersToStart(t *testing.T) {
	assert.Equal(t, 0, workersToStart(5, 10, 0))
	assert.Equal(t, 1, workersToStart(5, 10, 1))
	assert.Equal(t, 2, workersToStart(5, 10, 9))  // ceil(9/5) = 2
	assert.Equal(t, 10, workersToStart(5, 10, 1000)) // capped at maxWorkers
	assert.Equal(t, 3, workersToStart(1, 10, 3))  // K=1: one worker per task
}

// recordingLogger captures Warn calls for assertions without depending on
// a real slog sink.
type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Warn(msg string, _ ...interface{}) {
	l.warnings = append(l.warnings, msg)
}
func (l *recordingLogger) Error(string, ...interface{}) {}

// newPipeWorkerSpawn builds a spawnFunc backed by in-memory pipes and a
// real cluster.Worker goroutine, standing in for a spawned child process
// in tests (coordinator.spawnProcess is the production equivalent).
func newPipeWorkerSpawn(t *testing.T, store *memtest.Store, crashAfterFirstBatch map[string]bool) spawnFunc {
	t.Helper()
	return func(workerID string) (*workerConn, error) {
		coordToWorkerR, coordToWorkerW := io.Pipe()
		workerToCoordR, workerToCoordW := io.Pipe()

		p := processor.New(store, nil)
		p.Codec = &fakeCodec{meta: codec.Metadata{Width: 10, Height: 10, Orientation: 1}}
		p.Thumbnail = func(data []byte, id, dir, urlPrefix string, force bool) (thumbnail.Result, error) {
			return thumbnail.Result{ThumbnailURL: urlPrefix + "/" + id + ".webp", Blurhash: "hash"}, nil
		}

		w := &Worker{
			ID:          workerID,
			Concurrency: 5,
			Processor:   p,
			Options:     processor.Options{StoragePrefix: "photos/"},
			In:          coordToWorkerR,
			Out:         workerToCoordW,
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			if crashAfterFirstBatch[workerID] {
				runWorkerCrashingAfterFirstBatch(w)
				return
			}
			_ = w.Run(context.Background())
		}()

		return &workerConn{
			id:  workerID,
			in:  coordToWorkerW,
			out: workerToCoordR,
			wait: func() error {
				<-done
				return nil
			},
			kill: func() {},
		}, nil
	}
}

// runWorkerCrashingAfterFirstBatch emits ready, then silently dies (without
// replying) the first time it receives a batch-task, simulating a worker
// process that exits mid-batch.
func runWorkerCrashingAfterFirstBatch(w *Worker) {
	if err := writeFrame(w.Out, KindReady, ReadyMsg{WorkerID: w.ID}); err != nil {
		return
	}
	kind, _, _, err := readFrame(w.In)
	if err != nil {
		return
	}
	if kind == KindBatchTask {
		return // crash: no batch-result reply, connection simply closes
	}
}

func TestCoordinator_Run_DispatchesAllTasksAcrossWorkers(t *testing.T) {
	store := memtest.New()
	tasks := make([]Task, 6)
	for i := range tasks {
		key := fmt.Sprintf("photos/img%d.jpg", i)
		store.Put(memtest.Object{StorageObject: model.StorageObject{Key: key, LastModified: time.Now()}, Body: []byte("bytes")})
		tasks[i] = Task{TaskIndex: i, Object: model.StorageObject{Key: key, LastModified: time.Now()}}
	}

	c := NewCoordinator(2, 2, 2*time.Second, nil)
	c.spawn = newPipeWorkerSpawn(t, store, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := c.Run(ctx, tasks)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, r := range results {
		require.NotNil(t, r.Record, "task %d should have a record", i)
		assert.Equal(t, "new", r.Outcome)
		assert.Equal(t, fmt.Sprintf("img%d", i), r.Record.ID)
	}
}

func TestCoordinator_Run_EmptyTaskListReturnsImmediately(t *testing.T) {
	c := NewCoordinator(2, 2, time.Second, nil)
	c.spawn = func(string) (*workerConn, error) { t.Fatal("should not spawn for an empty task list"); return nil, nil }

	results, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCoordinator_Run_RequeuesCrashedWorkersBatch(t *testing.T) {
	store := memtest.New()
	tasks := make([]Task, 4)
	for i := range tasks {
		key := fmt.Sprintf("photos/img%d.jpg", i)
		store.Put(memtest.Object{StorageObject: model.StorageObject{Key: key, LastModified: time.Now()}, Body: []byte("bytes")})
		tasks[i] = Task{TaskIndex: i, Object: model.StorageObject{Key: key, LastModified: time.Now()}}
	}

	// worker-0 crashes right after its first batch; worker-1 behaves
	// normally and must pick up the re-queued work.
	logger := &recordingLogger{}
	c := NewCoordinator(2, 2, 2*time.Second, logger)
	c.spawn = newPipeWorkerSpawn(t, store, map[string]bool{"worker-0": true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := c.Run(ctx, tasks)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		require.NotNil(t, r.Record, "task %d should eventually complete via the surviving worker", i)
	}
	assert.Contains(t, logger.warnings, "worker.crash")
}
