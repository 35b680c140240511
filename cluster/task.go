package cluster

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nocturnelabs/photomanifest/model"
)

// Task is one unit of coordinator-owned work: a storage object to run
// through the photo processor, plus whatever the coordinator already knows
// about it from the existing manifest and Live Photo pairing (spec.md
// §4.6). Embedding these in the task avoids shipping the whole manifest and
// live-photo map to every worker process — the coordinator already holds
// both in memory and each task only ever needs its own entry.
type Task struct {
	TaskIndex       int
	Object          model.StorageObject
	ExistingRecord  *model.PhotoRecord
	LivePhotoVideo  *model.StorageObject
}

// TaskOutcome is one slot of the coordinator's results[] array, filled in
// as batch-result messages arrive (spec.md §4.6: "results are deposited
// into results[taskIndex]").
type TaskOutcome struct {
	Record  *model.PhotoRecord
	Outcome string // "new" | "processed" | "skipped" | "failed"
	Err     string
}

// taskID formats the internal taskId encoding described in spec.md §4.6:
// "<workerId>-<taskIndex>-<timestamp>-<batchSeq>". The coordinator only
// needs to recover taskIndex from a reply; the rest of the fields exist so
// the ID is unique across workers and batches.
func taskID(workerID string, taskIndex int, timestamp int64, batchSeq int) string {
	return fmt.Sprintf("%s-%d-%d-%d", workerID, taskIndex, timestamp, batchSeq)
}

// parseTaskIndex extracts taskIndex from a taskId built by taskID, without
// depending on the other fields or reply order. workerID may itself
// contain hyphens, so the three trailing fields (taskIndex, timestamp,
// batchSeq) are read from the end rather than split by position.
func parseTaskIndex(id string) (int, bool) {
	parts := strings.Split(id, "-")
	if len(parts) < 4 {
		return 0, false
	}
	taskIndex, err := strconv.Atoi(parts[len(parts)-3])
	if err != nil {
		return 0, false
	}
	return taskIndex, true
}
