package snapdiff

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeBackend stands in for the release server and its work queues at
// once: lease endpoints for the pdiff queue plus the artifact and
// report endpoints the workflow calls back into.
type fakeBackend struct {
	mu           sync.Mutex
	leases       []string
	finished     []string
	errored      map[string]string
	artifacts    map[string][]byte
	uploads      map[string][]byte
	reportPdiffs []url.Values

	srv *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{
		errored:   map[string]string{},
		artifacts: map[string][]byte{},
		uploads:   map[string][]byte{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/work_queue/run-pdiff/lease", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.leases) == 0 {
			fmt.Fprint(w, `{"tasks": []}`)
			return
		}
		body := f.leases[0]
		f.leases = f.leases[1:]
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/api/work_queue/run-pdiff/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/api/work_queue/run-pdiff/finish", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.finished = append(f.finished, r.PostFormValue("task_id"))
		f.mu.Unlock()
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/api/work_queue/run-pdiff/error", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.errored[r.PostFormValue("task_id")] = r.PostFormValue("message")
		f.mu.Unlock()
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/api/download", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		content, ok := f.artifacts[r.URL.Query().Get("sha1sum")]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(content)
	})
	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		content, err := io.ReadAll(file)
		require.NoError(t, err)

		sum := sha1.Sum(content)
		sha1sum := hex.EncodeToString(sum[:])
		f.mu.Lock()
		f.uploads[sha1sum] = content
		f.mu.Unlock()
		fmt.Fprintf(w, `{"sha1sum": %q}`, sha1sum)
	})
	mux.HandleFunc("/api/report_pdiff", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.reportPdiffs = append(f.reportPdiffs, r.PostForm)
		f.mu.Unlock()
		fmt.Fprint(w, `{"success": true}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackend) addArtifact(content []byte) string {
	sum := sha1.Sum(content)
	sha1sum := hex.EncodeToString(sum[:])
	f.mu.Lock()
	f.artifacts[sha1sum] = content
	f.mu.Unlock()
	return sha1sum
}

func (f *fakeBackend) pushLease(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leases = append(f.leases, body)
}

func writePdiffTool(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdiff-tool")
	script := "#!/bin/sh\n" +
		"if cmp -s \"$1\" \"$2\"; then echo identical; exit 0; fi\n" +
		"echo differ; cp \"$2\" \"$4\"; exit 1\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunnerProcessesPdiffQueueEndToEnd(t *testing.T) {
	f := newFakeBackend(t)

	runSum := f.addArtifact([]byte("candidate screenshot"))
	refSum := f.addArtifact([]byte("reference screenshot"))

	f.pushLease(fmt.Sprintf(`{"tasks": [{"task_id": "pd-1", "payload": {
		"build_id": 42,
		"release_name": "main",
		"release_number": 3,
		"run_name": "/home",
		"run_sha1sum": %q,
		"reference_sha1sum": %q
	}}]}`, runSum, refSum))

	cfg := DefaultConfig()
	cfg.ReleaseServerPrefix = f.srv.URL + "/api"
	cfg.PdiffQueueURL = f.srv.URL + "/api/work_queue/run-pdiff"
	cfg.PdiffBinary = writePdiffTool(t)
	cfg.WorkDir = t.TempDir()
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.PollMinBackoff = 5 * time.Millisecond
	cfg.PollMaxBackoff = 20 * time.Millisecond

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		done := len(f.finished) == 1
		f.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, []string{"pd-1"}, f.finished, "lease was never finished")
	require.Empty(t, f.errored)
	require.Len(t, f.reportPdiffs, 1)

	form := f.reportPdiffs[0]
	require.Equal(t, "/home", form.Get("run_name"))
	require.Equal(t, "", form.Get("no_diff"))
	require.Equal(t, []byte("candidate screenshot"), f.uploads[form.Get("diff_image")])
}

func TestRunnerRequiresValidConfig(t *testing.T) {
	_, err := NewRunner(Config{}, nil)
	require.Error(t, err)
}

func TestRunnerStartTwice(t *testing.T) {
	f := newFakeBackend(t)

	cfg := DefaultConfig()
	cfg.ReleaseServerPrefix = f.srv.URL + "/api"
	cfg.PdiffQueueURL = f.srv.URL + "/api/work_queue/run-pdiff"
	cfg.PdiffBinary = "/usr/bin/true"
	cfg.PollMinBackoff = 5 * time.Millisecond
	cfg.PollMaxBackoff = 20 * time.Millisecond

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, runner.Start(context.Background()))
	require.Error(t, runner.Start(context.Background()))
	runner.Stop()

	// A stopped runner tolerates repeated Stop calls.
	runner.Stop()
}
