package qaqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CraigThomasParsons/mason/domain"
)

func TestStats_ParsesCounters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queue/stats", r.URL.Path)
		w.Write([]byte(`{"total_active": 75, "pending": 3}`))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	stats, err := c.Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 75, stats.TotalActive)
	assert.Equal(t, 3, stats.Pending)
}

func TestIsHighLoad_ComparesAgainstThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_active": 75}`))
	}))
	defer server.Close()

	c := New(server.URL, nil)

	high, err := c.IsHighLoad(context.Background(), 50)
	require.NoError(t, err)
	assert.True(t, high)

	low, err := c.IsHighLoad(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, low)
}

func TestProviderStats_TagsNameFromMapKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"claude_cli": {"total_runs": 10, "success_rate": 0.8}}`))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	stats, err := c.ProviderStats(context.Background())

	require.NoError(t, err)
	require.Contains(t, stats, "claude_cli")
	assert.Equal(t, "claude_cli", stats["claude_cli"].Name)
	assert.Equal(t, 0.8, stats["claude_cli"].SuccessRate)
}

func TestRetryQueue_ParsesRetryTasks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"task_id":"abc","attempt":1,"max_attempts":3,"providers_tried":["claude_cli"]}]`))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	tasks, err := c.RetryQueue(context.Background())

	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "abc", tasks[0].TaskID)
	assert.Equal(t, []string{"claude_cli"}, tasks[0].ProvidersTried)
}

func TestGetTask_ReturnsOriginalPacket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/abc", r.URL.Path)
		w.Write([]byte(`{"identity":{"task_id":"abc","story_id":5}}`))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	packet, err := c.GetTask(context.Background(), "abc")

	require.NoError(t, err)
	assert.Equal(t, "abc", packet.Identity.TaskID)
	assert.Equal(t, int64(5), packet.Identity.StoryID)
}

func TestStartRun_ReturnsRunID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/abc/start-run", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude_cli", body["provider_name"])
		w.Write([]byte(`{"run_id": "run-42"}`))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	runID, err := c.StartRun(context.Background(), "abc", "claude_cli", 1.0)

	require.NoError(t, err)
	assert.Equal(t, "run-42", runID)
}

func TestCompleteRun_PostsOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/abc/complete-run", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "success", body["execution_status"])
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	err := c.CompleteRun(context.Background(), "abc", "run-42", domain.ArtifactBundle{
		ExecutionStatus: domain.StatusSuccess,
	})

	require.NoError(t, err)
}

func TestSubmitTask_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(server.URL, nil)
	err := c.SubmitTask(context.Background(), domain.TaskPacket{})

	assert.Error(t, err)
}
