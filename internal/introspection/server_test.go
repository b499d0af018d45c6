package introspection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arcadequeue/matchqueue/internal/model"
	"github.com/arcadequeue/matchqueue/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestHealthzReturnsOK(t *testing.T) {
	srv := New(registry.NewGameServerRegistry())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueuesListsAndFiltersByState(t *testing.T) {
	servers := registry.NewGameServerRegistry()
	key1 := model.ServerKey{IP: "1.2.3.4", Port: 7777}
	key2 := model.ServerKey{IP: "5.6.7.8", Port: 8888}
	gs1 := servers.GetOrCreate(key1, "inst-1")
	gs2 := servers.GetOrCreate(key2, "inst-2")
	gs2.Mu.Lock()
	gs2.State = model.ProcessingRunning
	gs2.Mu.Unlock()

	p := &model.Player{StableID: "p1", DisplayName: "Alice", State: model.StateQueued, QueuedAt: time.Now()}
	gs1.Queue.Enqueue(p)

	srv := New(servers)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/queues")
	require.NoError(t, err)
	defer resp.Body.Close()
	var all []serverView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	require.Len(t, all, 2)

	resp2, err := http.Get(ts.URL + "/queues?state=Running")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var filtered []serverView
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&filtered))
	require.Len(t, filtered, 1)
	require.Equal(t, "5.6.7.8", filtered[0].IP)

	resp3, err := http.Get(ts.URL + "/queues?server=1.2.3.4:7777")
	require.NoError(t, err)
	defer resp3.Body.Close()
	var bykey []serverView
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&bykey))
	require.Len(t, bykey, 1)
	require.Len(t, bykey[0].Players, 1)
	require.Equal(t, "Alice", bykey[0].Players[0].Name)
}
