package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nocturnelabs/photomanifest/model"
	"github.com/nocturnelabs/photomanifest/processor"
)

// PhotoHook observes per-photo processing inside a worker process. Logging
// must never reach Out (the framed protocol channel shares stdout), so a
// worker's hook is wired to stderr — see RunWorker in run_worker.go.
type PhotoHook interface {
	BeforeProcess(key string)
	AfterProcess(key string, outcome string, d time.Duration, err error)
}

type noopHook struct{}

func (noopHook) BeforeProcess(string)                             {}
func (noopHook) AfterProcess(string, string, time.Duration, error) {}

// Worker runs the worker side of the protocol: reads batch-task messages
// from In, processes each task against Processor with bounded
// intra-process concurrency, and writes batch-result messages to Out
// (spec.md §4.6).
type Worker struct {
	ID          string
	Concurrency int // K, bounds in-flight tasks within a single batch reply
	Processor   *processor.Processor
	Options     processor.Options
	Hook        PhotoHook

	In  io.Reader
	Out io.Writer

	// writeMu serializes frame writes onto Out, since batch-task handling
	// may answer a ping concurrently with finishing a prior batch.
	writeMu sync.Mutex
}

func (w *Worker) hook() PhotoHook {
	if w.Hook == nil {
		return noopHook{}
	}
	return w.Hook
}

// Run implements the worker bootstrap and message loop: register the
// handler, emit ready immediately, then block reading frames until a
// shutdown message or the input closes (spec.md §4.6: "registers its
// message handler before any blocking initialization").
func (w *Worker) Run(ctx context.Context) error {
	if err := w.send(KindReady, ReadyMsg{WorkerID: w.ID}); err != nil {
		return err
	}

	var batches sync.WaitGroup
	for {
		kind, _, body, err := readFrame(w.In)
		if err != nil {
			if err == io.EOF {
				batches.Wait()
				return nil
			}
			return err
		}

		switch kind {
		case KindShutdown:
			batches.Wait()
			return nil
		case KindPing:
			if err := w.send(KindPong, PongMsg{WorkerID: w.ID}); err != nil {
				return err
			}
		case KindBatchTask:
			var msg BatchTaskMsg
			if err := json.Unmarshal(body, &msg); err != nil {
				return err
			}
			// The batch runs off the read loop, so a ping or a further
			// batch is still read and answered while it is in flight.
			batches.Add(1)
			go func() {
				defer batches.Done()
				_ = w.handleBatch(ctx, msg)
			}()
		}
	}
}

// handleBatch runs every task in msg concurrently (bounded by
// Concurrency, though a batch is already sized to at most K by the
// coordinator) and sends a single batch-result reply once all are done.
func (w *Worker) handleBatch(ctx context.Context, msg BatchTaskMsg) error {
	results := make([]TaskResult, len(msg.Tasks))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxInt(w.Concurrency, 1))

	for i, task := range msg.Tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task TaskRef) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = w.processTask(ctx, task)
		}(i, task)
	}
	wg.Wait()

	return w.send(KindBatchResult, BatchResultMsg{Results: results})
}

// processTask runs one task through the processor and shapes its outcome
// into a wire-level TaskResult.
func (w *Worker) processTask(ctx context.Context, task TaskRef) TaskResult {
	existingMap := map[string]model.PhotoRecord{}
	if task.ExistingRecord != nil {
		existingMap[task.Object.Key] = *task.ExistingRecord
	}
	livePhotoMap := map[string]model.StorageObject{}
	if task.LivePhotoVideo != nil {
		livePhotoMap[task.Object.Key] = *task.LivePhotoVideo
	}

	start := time.Now()
	w.hook().BeforeProcess(task.Object.Key)
	rec, outcome := w.Processor.Process(ctx, task.Object, existingMap, livePhotoMap, w.Options)
	if outcome == processor.OutcomeFailed {
		w.hook().AfterProcess(task.Object.Key, string(outcome), time.Since(start), errProcessingFailed)
		return TaskResult{TaskID: task.TaskID, Type: "error", Error: "processing failed"}
	}
	w.hook().AfterProcess(task.Object.Key, string(outcome), time.Since(start), nil)
	return TaskResult{TaskID: task.TaskID, Type: "result", Record: rec, Status: string(outcome)}
}

var errProcessingFailed = errors.New("processing failed")

func (w *Worker) send(kind Kind, payload interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return writeFrame(w.Out, kind, payload)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
