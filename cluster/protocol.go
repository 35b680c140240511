// Package cluster implements the multi-process coordinator/worker pool
// (spec.md §4.6, §5): a framed JSON protocol over a spawned child's
// stdin/stdout pipes, generalizing the teacher's single-process
// core.Processor goroutine worker pool (jobQueue/wg/shutdown channel,
// see core/processor.go) into OS-process fan-out with the same
// ready/shutdown lifecycle shape.
package cluster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nocturnelabs/photomanifest/model"
)

// Kind tags a frame's payload type.
type Kind byte

const (
	KindBatchTask   Kind = 1
	KindShutdown    Kind = 2
	KindPing        Kind = 3
	KindReady       Kind = 4
	KindPong        Kind = 5
	KindBatchResult Kind = 6
)

// protocolVersion is bumped whenever the frame or message shapes change in
// a way a peer running a different binary build couldn't decode.
const protocolVersion byte = 1

// frameHeaderSize is the 4-byte length prefix plus the kind and version
// bytes that precede every JSON payload (spec.md §9: "length-prefixed,
// single-byte kind, version byte").
const frameHeaderSize = 4 + 1 + 1

// writeFrame encodes kind+payload as length-prefixed, versioned JSON and
// writes it to w. Safe to call concurrently only if w itself is safe for
// concurrent writes; callers serialize writes per connection.
func writeFrame(w io.Writer, kind Kind, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cluster: marshal %v frame: %w", kind, err)
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
	frame[4] = byte(kind)
	frame[5] = protocolVersion
	copy(frame[frameHeaderSize:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("cluster: write %v frame: %w", kind, err)
	}
	return nil
}

// readFrame blocks until one full frame is available on r, or returns the
// underlying read error (including io.EOF when the peer closed its pipe).
func readFrame(r io.Reader) (Kind, byte, []byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	kind := Kind(header[4])
	version := header[5]

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, 0, nil, fmt.Errorf("cluster: read %v frame body: %w", kind, err)
		}
	}
	return kind, version, body, nil
}

// ── message payloads (coordinator → worker) ────────────────────────────────

// TaskRef is what a batch-task message carries for one assigned task: just
// enough for the worker to run processor.Process without a shared manifest
// or live-photo map (spec.md §4.6's "batch-task{tasks: [{taskId,
// taskIndex}]" generalized to also carry the task's own Object/
// ExistingRecord/LivePhotoVideo, since those would otherwise have to be
// fetched from a manifest snapshot the worker has no other way to obtain).
type TaskRef struct {
	TaskID         string              `json:"taskId"`
	TaskIndex      int                 `json:"taskIndex"`
	Object         model.StorageObject `json:"object"`
	ExistingRecord *model.PhotoRecord  `json:"existingRecord,omitempty"`
	LivePhotoVideo *model.StorageObject `json:"livePhotoVideo,omitempty"`
}

// BatchTaskMsg assigns up to K tasks to a worker at once.
type BatchTaskMsg struct {
	WorkerID string    `json:"workerId"`
	Tasks    []TaskRef `json:"tasks"`
}

// ShutdownMsg asks a worker to detach its handlers and exit.
type ShutdownMsg struct{}

// PingMsg probes a worker's readiness without dispatching work.
type PingMsg struct{}

// ── message payloads (worker → coordinator) ─────────────────────────────────

// ReadyMsg is emitted once, as the first frame Worker.Run writes (spec.md
// §4.6). RunWorker starts libvips and opens the store before it calls Run,
// so in a spawned worker process that setup finishes before ready is sent;
// no setup is deferred to the first task.
type ReadyMsg struct {
	WorkerID string `json:"workerId"`
}

// PongMsg answers a PingMsg.
type PongMsg struct {
	WorkerID string `json:"workerId"`
}

// TaskResult is one entry of a BatchResultMsg.
type TaskResult struct {
	TaskID string             `json:"taskId"`
	Type   string             `json:"type"` // "result" | "error"
	Record *model.PhotoRecord `json:"result,omitempty"`
	Status string             `json:"status,omitempty"` // outcome when Type == "result"
	Error  string             `json:"error,omitempty"`
}

// BatchResultMsg replies to one received BatchTaskMsg.
type BatchResultMsg struct {
	Results []TaskResult `json:"results"`
}
