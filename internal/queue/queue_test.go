package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueRejectsDuplicate(t *testing.T) {
	q := New[string]()

	require.True(t, q.Enqueue("a"))
	require.False(t, q.Enqueue("a"))
	require.Equal(t, 1, q.Len())
}

func TestOrderingIsInsertionOrder(t *testing.T) {
	q := New[string]()
	for _, v := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(v))
	}

	nodes := q.Snapshot()
	require.Len(t, nodes, 3)
	require.Equal(t, "a", nodes[0].Value())
	require.Equal(t, "b", nodes[1].Value())
	require.Equal(t, "c", nodes[2].Value())
}

func TestTryRemoveByValue(t *testing.T) {
	q := New[string]()
	q.Enqueue("a")
	q.Enqueue("b")

	require.True(t, q.TryRemove("a"))
	require.False(t, q.TryRemove("a"))
	require.False(t, q.Contains("a"))
	require.True(t, q.Contains("b"))
	require.Equal(t, 1, q.Len())
}

func TestTryRemoveNodeAfterSnapshot(t *testing.T) {
	q := New[string]()
	q.Enqueue("a")
	q.Enqueue("b")

	nodes := q.Snapshot()
	require.True(t, q.TryRemoveNode(nodes[0]))
	// Removing the same node twice is a no-op.
	require.False(t, q.TryRemoveNode(nodes[0]))
	require.Equal(t, []string{"b"}, values(q))
}

func TestTryRemoveNodeStaleAfterConcurrentRemoval(t *testing.T) {
	q := New[string]()
	q.Enqueue("a")

	nodes := q.Snapshot()
	require.True(t, q.TryRemove("a"))
	// The node handle is stale now; TryRemoveNode must not resurrect it
	// or remove an unrelated element.
	require.False(t, q.TryRemoveNode(nodes[0]))
}

func TestPositionOf(t *testing.T) {
	q := New[string]()
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	pos, ok := q.PositionOf("b")
	require.True(t, ok)
	require.Equal(t, 2, pos)

	_, ok = q.PositionOf("z")
	require.False(t, ok)
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	q := New[int]()
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			q.Enqueue(v)
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, q.Len())

	wg = sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			q.TryRemove(v)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, q.Len())
}

func values(q *Queue[string]) []string {
	nodes := q.Snapshot()
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Value()
	}
	return out
}
