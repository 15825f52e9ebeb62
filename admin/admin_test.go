package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/binlogd/logfile"
	"github.com/maxpert/binlogd/pipeline"
	"github.com/maxpert/binlogd/publisher"
)

type fakePipeline struct {
	progress pipeline.Progress
	err      error
}

func (f *fakePipeline) Progress() pipeline.Progress { return f.progress }
func (f *fakePipeline) InFlight() int               { return 3 }
func (f *fakePipeline) QueueStats() (int, int, int) { return 3, 2, 1 }
func (f *fakePipeline) Err() error                  { return f.err }

type fakeFiles struct{}

func (fakeFiles) Files() []logfile.FileInfo {
	return []logfile.FileInfo{
		{Number: 1, Name: "binlog.000001", Size: 4096},
		{Number: 2, Name: "binlog.000002", Size: 126},
	}
}

func (fakeFiles) Position() mysql.Position {
	return mysql.Position{Name: "binlog.000002", Pos: 126}
}

type fakeCheckpoints struct {
	cps []publisher.Checkpoint
}

func (f *fakeCheckpoints) Last() (publisher.Checkpoint, bool, error) {
	if len(f.cps) == 0 {
		return publisher.Checkpoint{}, false, nil
	}
	return f.cps[len(f.cps)-1], true, nil
}

func (f *fakeCheckpoints) ReadFrom(cursor uint64, limit int) ([]publisher.Checkpoint, error) {
	var out []publisher.Checkpoint
	for _, cp := range f.cps {
		if cp.Seq > cursor && len(out) < limit {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeCheckpoints) Cursors() map[string]uint64 {
	return map[string]uint64{"kafka": 1}
}

func newCheckpoints(n int) *fakeCheckpoints {
	f := &fakeCheckpoints{}
	for i := 1; i <= n; i++ {
		f.cps = append(f.cps, publisher.Checkpoint{Seq: uint64(i), TxSeq: int64(i), File: "binlog.000001"})
	}
	return f
}

func get(t *testing.T, h http.Handler, path string, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestProgressEndpoint(t *testing.T) {
	p := &fakePipeline{progress: pipeline.Progress{Pending: 10, Processed: 8, Written: 7, Skipped: 1}}
	router := NewRouter(NewHandlers(p, fakeFiles{}, nil), "")

	rec, body := get(t, router, "/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]interface{})
	progress := data["progress"].(map[string]interface{})
	assert.EqualValues(t, 10, progress["pending"])
	assert.EqualValues(t, 7, progress["written"])
	assert.EqualValues(t, 1, progress["skipped"])
	assert.EqualValues(t, 3, data["in_flight"])
	assert.EqualValues(t, 2, data["queued_tasks"])
	assert.NotContains(t, data, "error")
}

func TestFilesEndpoint(t *testing.T) {
	router := NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, nil), "")

	rec, body := get(t, router, "/files")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]interface{})
	files := data["files"].([]interface{})
	require.Len(t, files, 2)
	assert.Equal(t, "binlog.000001", files[0].(map[string]interface{})["name"])
	position := data["position"].(map[string]interface{})
	assert.Equal(t, "binlog.000002", position["file"])
	assert.EqualValues(t, 126, position["pos"])
}

func TestHealthEndpoint(t *testing.T) {
	p := &fakePipeline{}
	router := NewRouter(NewHandlers(p, fakeFiles{}, nil), "secret")

	rec, _ := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	p.err = errors.New("disk full")
	rec, body := get(t, router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "disk full", body["error"])
}

func TestCheckpointEndpoints(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		router := NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, nil), "")
		rec, _ := get(t, router, "/checkpoint")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty", func(t *testing.T) {
		router := NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, newCheckpoints(0)), "")
		rec, _ := get(t, router, "/checkpoint")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("last", func(t *testing.T) {
		router := NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, newCheckpoints(5)), "")
		rec, body := get(t, router, "/checkpoint")
		require.Equal(t, http.StatusOK, rec.Code)

		data := body["data"].(map[string]interface{})
		cp := data["checkpoint"].(map[string]interface{})
		assert.EqualValues(t, 5, cp["seq"])
		assert.EqualValues(t, 1, data["cursors"].(map[string]interface{})["kafka"])
	})

	t.Run("paging", func(t *testing.T) {
		router := NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, newCheckpoints(5)), "")

		rec, body := get(t, router, "/checkpoints?limit=2")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, body["data"], 2)
		assert.Equal(t, true, body["has_more"])
		assert.Equal(t, "2", body["next"])

		rec, body = get(t, router, "/checkpoints?from=4&limit=2")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, body["data"], 1)
		assert.NotContains(t, body, "has_more")
	})

	t.Run("bad parameters", func(t *testing.T) {
		router := NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, newCheckpoints(1)), "")
		for _, path := range []string{"/checkpoints?limit=0", "/checkpoints?limit=5000", "/checkpoints?from=x"} {
			rec, _ := get(t, router, path)
			assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	router := NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, nil), "s3cret")

	rec, _ := get(t, router, "/progress")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, router, "/progress", "Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, router, "/progress", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, router, "/progress", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, router, "/progress", "X-Binlogd-Token", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointIsOpen(t *testing.T) {
	router := NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, nil), "s3cret")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", NewRouter(NewHandlers(&fakePipeline{}, fakeFiles{}, nil), ""))
	require.NoError(t, err)
	srv.Start()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(t.Context()))
}
