package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskID_ParseTaskIndex_RoundTrips(t *testing.T) {
	id := taskID("worker-0", 42, 1700000000000000000, 3)
	idx, ok := parseTaskIndex(id)
	assert.True(t, ok)
	assert.Equal(t, 42, idx)
}

func TestParseTaskIndex_WorkerIDWithHyphens(t *testing.T) {
	id := taskID("cluster-worker-7", 5, 123, 0)
	idx, ok := parseTaskIndex(id)
	assert.True(t, ok)
	assert.Equal(t, 5, idx)
}

func TestParseTaskIndex_MalformedInput(t *testing.T) {
	_, ok := parseTaskIndex("not-a-valid-id")
	assert.False(t, ok)
}
