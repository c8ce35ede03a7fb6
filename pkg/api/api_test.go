package api

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashFileSumTracksBytesRead(t *testing.T) {
	content := []byte("hello artifact")
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	hf, err := OpenHashFile(path)
	require.NoError(t, err)
	defer hf.Close()

	got, err := io.ReadAll(hf)
	require.NoError(t, err)
	require.Equal(t, content, got)

	want := sha1.Sum(content)
	require.Equal(t, hex.EncodeToString(want[:]), hf.Sum())
	require.Equal(t, "f.bin", hf.Base())
	require.Equal(t, path, hf.Path())
}

func TestOpenHashFileMissing(t *testing.T) {
	_, err := OpenHashFile(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestFetchDescribeImpliesMethod(t *testing.T) {
	plain := &Fetch{URL: "http://x/download"}
	require.Equal(t, "GET http://x/download", plain.Describe())

	form := &Fetch{URL: "http://x/report_run", Form: map[string][]string{"a": {"1"}}}
	require.Equal(t, "POST http://x/report_run", form.Describe())
}

func TestFetchResultHelpers(t *testing.T) {
	r := &FetchResult{JSON: map[string]any{
		"success":        true,
		"release_number": float64(12),
		"url":            "http://x/release",
	}}

	require.True(t, r.Success())
	require.Equal(t, "http://x/release", r.Str("url"))
	require.Equal(t, "", r.Str("absent"))

	n, ok := r.Num("release_number")
	require.True(t, ok)
	require.Equal(t, float64(12), n)
	_, ok = r.Num("url")
	require.False(t, ok)

	nilResult := &FetchResult{}
	require.False(t, nilResult.Success())
	require.Equal(t, "", nilResult.Str("anything"))
}

func TestFetchResultErrField(t *testing.T) {
	cases := []struct {
		name  string
		json  map[string]any
		want  string
		isSet bool
	}{
		{"absent", map[string]any{"success": true}, "", false},
		{"empty string", map[string]any{"error": ""}, "", false},
		{"message", map[string]any{"error": "release not found"}, "release not found", true},
		{"true", map[string]any{"error": true}, "true", true},
		{"false", map[string]any{"error": false}, "", false},
		{"null", map[string]any{"error": nil}, "", false},
		{"number", map[string]any{"error": float64(1)}, "1", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &FetchResult{JSON: tc.json}
			msg, ok := r.ErrField()
			require.Equal(t, tc.isSet, ok)
			require.Equal(t, tc.want, msg)
		})
	}
}

type namedTask struct{}

func (namedTask) TaskName() string                 { return "explicit-name" }
func (namedTask) Run(tc *TaskContext) (any, error) { return nil, nil }

type plainTask struct{}

func (plainTask) Run(tc *TaskContext) (any, error) { return nil, nil }

func TestTaskName(t *testing.T) {
	require.Equal(t, "explicit-name", TaskName(namedTask{}))
	require.Equal(t, "api.plainTask", TaskName(plainTask{}))
	require.Equal(t, "api.plainTask", TaskName(&plainTask{}))
}

func TestValidateDependencies(t *testing.T) {
	require.NoError(t, ValidateDependencies([]any{plainTask{}, &Fetch{URL: "http://x"}}))

	err := ValidateDependencies([]any{plainTask{}, "nope"})
	require.ErrorContains(t, err, "dependency 1")

	err = ValidateDependencies([]any{nil})
	require.ErrorContains(t, err, "dependency 0")

	var typedNil *Fetch
	err = ValidateDependencies([]any{typedNil})
	require.ErrorContains(t, err, "dependency 0")
}

func TestWaitAllEmptyYieldsNothing(t *testing.T) {
	tc := NewTaskContext(context.Background(), "t1", func(deps []any) ([]any, error) {
		t.Fatal("empty WaitAll must not reach the scheduler")
		return nil, nil
	})

	results, err := tc.WaitAll()
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestInstanceWait(t *testing.T) {
	inst := NewInstance("i1", "test")

	go func() {
		time.Sleep(10 * time.Millisecond)
		inst.Complete("done")
	}()

	out, err := inst.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Equal(t, StatusDone, inst.Status)
}

func TestInstanceWaitHonorsContext(t *testing.T) {
	inst := NewInstance("i2", "test")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := inst.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutAndOpErrors(t *testing.T) {
	te := &TimeoutError{Op: "GET http://x", Timeout: time.Second}
	require.True(t, IsTimeout(te))
	require.Contains(t, te.Error(), "GET http://x")

	oe := &OpError{Op: "exec /bin/false", Err: errors.New("spawn failed")}
	require.False(t, IsTimeout(oe))
	require.ErrorContains(t, oe, "spawn failed")
	require.True(t, IsTimeout(&OpError{Op: "x", Err: te}))
}
