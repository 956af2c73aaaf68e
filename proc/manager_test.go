package proc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func drainReadyQueue() {
	for FetchTask() != nil {
	}
}

func TestReadyQueueFIFO(t *testing.T) {
	drainReadyQueue()

	a := &TaskControlBlock{Status: Ready}
	b := &TaskControlBlock{Status: Ready}
	c := &TaskControlBlock{Status: Ready}
	AddTask(a)
	AddTask(b)
	AddTask(c)

	require.Same(t, a, FetchTask())
	require.Same(t, b, FetchTask())
	require.Same(t, c, FetchTask())
	require.Nil(t, FetchTask())
}

func TestFetchFromEmptyQueue(t *testing.T) {
	drainReadyQueue()
	require.Nil(t, FetchTask())
}

// TestRequeueKeepsArrivalOrder re-adds a fetched task behind a newer
// arrival, the round-robin property the cooperative scheduler depends
// on.
func TestRequeueKeepsArrivalOrder(t *testing.T) {
	drainReadyQueue()

	a := &TaskControlBlock{Status: Ready}
	b := &TaskControlBlock{Status: Ready}
	AddTask(a)
	AddTask(b)

	got := FetchTask()
	require.Same(t, a, got)
	AddTask(got)

	require.Same(t, b, FetchTask())
	require.Same(t, a, FetchTask())
}
