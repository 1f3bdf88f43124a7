package gdrive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

type recorded struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   string
}

type recorder struct {
	mu       sync.Mutex
	requests []recorded
}

func (r *recorder) add(req *http.Request) recorded {
	body, _ := io.ReadAll(req.Body)
	query := map[string]string{}
	for key := range req.URL.Query() {
		query[key] = req.URL.Query().Get(key)
	}
	rec := recorded{Method: req.Method, Path: req.URL.Path, Query: query, Header: req.Header.Clone(), Body: string(body)}
	r.mu.Lock()
	r.requests = append(r.requests, rec)
	r.mu.Unlock()
	return rec
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.requests...)
}

func TestInsertFileSimpleMovesToFolder(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := rec.add(r)
		switch {
		case got.Method == http.MethodPost && got.Path == "/drive/v3/files":
			_, _ = w.Write([]byte(`{"id":"new1","name":"x"}`))
		case got.Method == http.MethodPatch && got.Path == "/upload/drive/v3/files/new1":
			_, _ = w.Write([]byte(`{"id":"new1","parents":["root"]}`))
		case got.Method == http.MethodPatch && got.Path == "/drive/v3/files/new1":
			_, _ = w.Write([]byte(`{"id":"new1","parents":["folder9"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, Options{})
	file := writeCSV(t, "id,name\n1,a\n")
	file.Type = models.TypeSheet
	file.Operation = models.OperationCreate
	file.TargetFolder = "folder9"

	out, err := client.InsertFile(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "new1", out.Id)
	require.Equal(t, []string{"folder9"}, out.Parents)

	reqs := rec.all()
	require.Len(t, reqs, 3)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &meta))
	require.Equal(t, "Orders (2024-03-09 14:05:07)", meta["name"])
	require.Equal(t, SpreadsheetMimeType, meta["mimeType"])

	require.Equal(t, "media", reqs[1].Query["uploadType"])
	require.Equal(t, "text/csv", reqs[1].Header.Get("Content-Type"))
	require.Equal(t, "id,name\n1,a\n", reqs[1].Body)

	require.Equal(t, "folder9", reqs[2].Query["addParents"])
	require.Equal(t, "root", reqs[2].Query["removeParents"])
}

func TestUpdateFileSimpleReconcilesParents(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := rec.add(r)
		switch {
		case got.Method == http.MethodGet && got.Path == "/drive/v3/files/abc":
			_, _ = w.Write([]byte(`{"id":"abc","parents":["old1","keep"]}`))
		case got.Method == http.MethodPatch && got.Path == "/upload/drive/v3/files/abc":
			_, _ = w.Write([]byte(`{"id":"abc"}`))
		case got.Method == http.MethodPatch && got.Path == "/drive/v3/files/abc":
			_, _ = w.Write([]byte(`{"id":"abc","name":"Orders","parents":["keep"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, Options{})
	file := writeCSV(t, "a,b\n")
	file.RemoteID = "abc"
	file.TargetFolder = "keep"

	out, err := client.UpdateFile(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "Orders", out.Name)

	reqs := rec.all()
	require.Len(t, reqs, 3)
	last := reqs[2]
	require.Equal(t, "old1", last.Query["removeParents"])
	require.NotContains(t, last.Query, "addParents")
	require.JSONEq(t, `{"name":"Orders"}`, last.Body)
}

func TestUpdateFileNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server, Options{})
	file := writeCSV(t, "a\n")
	file.RemoteID = "missing"

	_, err := client.UpdateFile(context.Background(), file)
	require.True(t, IsNotFound(err))
}

func TestInsertFileResumesInterruptedUpload(t *testing.T) {
	rec := &recorder{}
	var puts int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := rec.add(r)
		switch {
		case got.Method == http.MethodPost && got.Path == "/upload/drive/v3/files":
			w.Header().Set("Location", server.URL+"/session/1")
			w.WriteHeader(http.StatusOK)
		case got.Method == http.MethodPut && got.Path == "/session/1":
			atomic.AddInt32(&puts, 1)
			switch got.Header.Get("Content-Range") {
			case "":
				w.WriteHeader(http.StatusInternalServerError)
			case "bytes */*":
				w.Header().Set("Range", "bytes=0-4")
				w.WriteHeader(StatusResumeIncomplete)
			case "bytes 5-9/10":
				_, _ = w.Write([]byte(`{"id":"big1","name":"Orders"}`))
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, Options{ResumableThreshold: -1})
	file := writeCSV(t, "0123456789")
	file.TargetFolder = "folder9"

	var sent int64
	ctx := WithProgress(context.Background(), func(n int64) { atomic.AddInt64(&sent, n) })
	out, err := client.InsertFile(ctx, file)
	require.NoError(t, err)
	require.Equal(t, "big1", out.Id)
	require.Equal(t, int32(3), atomic.LoadInt32(&puts))

	reqs := rec.all()
	start := reqs[0]
	require.Equal(t, "resumable", start.Query["uploadType"])
	require.Equal(t, "text/csv", start.Header.Get("X-Upload-Content-Type"))
	require.Equal(t, "10", start.Header.Get("X-Upload-Content-Length"))
	require.JSONEq(t, `{"name":"Orders","parents":["folder9"]}`, start.Body)

	resumed := reqs[len(reqs)-1]
	require.Equal(t, "56789", resumed.Body)
	require.Equal(t, int64(15), atomic.LoadInt64(&sent))
}

func TestResumeGivesUpAfterAttempts(t *testing.T) {
	var puts int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		switch r.Method {
		case http.MethodPatch:
			w.Header().Set("Location", server.URL+"/session/2")
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"id":"abc","parents":[]}`))
		case http.MethodPut:
			atomic.AddInt32(&puts, 1)
			if r.Header.Get("Content-Range") == "" {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Range", "bytes=0-1")
			w.WriteHeader(StatusResumeIncomplete)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, Options{ResumableThreshold: -1, ResumeAttempts: 3})
	var delays []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	file := writeCSV(t, "abcdef")
	file.RemoteID = "abc"

	_, err := client.UpdateFile(context.Background(), file)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, StatusResumeIncomplete, apiErr.StatusCode)
	// initial put, probe, three resumed puts
	require.Equal(t, int32(5), atomic.LoadInt32(&puts))
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestNextOffset(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{header: "", want: 0},
		{header: "bytes=0-999", want: 1000},
		{header: "bytes=0-0", want: 1},
		{header: "bytes=abc", wantErr: true},
		{header: "bytes=0-x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := nextOffset(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParentsDiff(t *testing.T) {
	tests := []struct {
		name       string
		current    []string
		target     string
		wantAdd    []string
		wantRemove []string
	}{
		{name: "no target", current: []string{"a"}, target: ""},
		{name: "already there", current: []string{"t"}, target: "t"},
		{name: "move", current: []string{"a", "b"}, target: "t", wantAdd: []string{"t"}, wantRemove: []string{"a", "b"}},
		{name: "keep target drop others", current: []string{"a", "t"}, target: "t", wantRemove: []string{"a"}},
		{name: "orphan", current: nil, target: "t", wantAdd: []string{"t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			add, remove := parentsDiff(tt.current, tt.target)
			require.Equal(t, tt.wantAdd, add)
			require.Equal(t, tt.wantRemove, remove)
		})
	}
}

func TestResumeDelay(t *testing.T) {
	c := New(Options{BackoffBase: 3, BackoffUnit: time.Millisecond})
	require.Equal(t, time.Millisecond, c.resumeDelay(0))
	require.Equal(t, 3*time.Millisecond, c.resumeDelay(1))
	require.Equal(t, 27*time.Millisecond, c.resumeDelay(3))
}
