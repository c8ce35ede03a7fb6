package api

import (
	"fmt"
	"net/url"
	"time"
)

// OpKind selects which executor pool performs an Operation.
type OpKind string

const (
	// OpKindFetch is HTTP work: API calls, uploads, artifact downloads.
	OpKindFetch OpKind = "fetch"

	// OpKindExec is local subprocess work: capture and pdiff binaries.
	OpKindExec OpKind = "exec"
)

// Operation is an atomic request for blocking work. Operations never
// nest; they are the leaves of a task's dependency graph. Exactly one
// executor worker handles an Operation, and ownership of the result
// transfers to the yielding task on completion.
type Operation interface {
	Kind() OpKind
	Describe() string
}

// Fetch describes one HTTP call.
//
// The method is implied: POST when Form or Files is set, GET otherwise.
// If OutputPath is set, the response body streams directly to that file
// instead of being buffered in the result.
type Fetch struct {
	URL  string
	Form url.Values

	// Files maps multipart field names to open HashFiles. Each file is
	// streamed (not buffered) and hashed as it is read, so the digest of
	// exactly the transmitted bytes is available via HashFile.Sum after
	// the call completes. The executor closes every file when the
	// operation finishes, in either outcome.
	Files map[string]*HashFile

	// Timeout bounds the whole call. Zero means the executor's default.
	Timeout time.Duration

	// OutputPath, if non-empty, receives the response body.
	OutputPath string
}

func (f *Fetch) Kind() OpKind { return OpKindFetch }

func (f *Fetch) Describe() string {
	method := "GET"
	if len(f.Form) > 0 || len(f.Files) > 0 {
		method = "POST"
	}
	return method + " " + f.URL
}

// FetchResult is the outcome of a completed Fetch.
type FetchResult struct {
	StatusCode int

	// Body is the raw response body. It is nil when the Fetch carried an
	// OutputPath (the body went to disk instead).
	Body []byte

	// JSON is the decoded response object when the body parsed as a JSON
	// object, nil otherwise. A missing or malformed body is not an error
	// at this level; workflows treat a nil JSON as a bad response.
	JSON map[string]any
}

// Str returns the string value of a JSON field, or "" if absent or not
// a string.
func (r *FetchResult) Str(key string) string {
	if r.JSON == nil {
		return ""
	}
	s, _ := r.JSON[key].(string)
	return s
}

// Num returns the numeric value of a JSON field and whether it was
// present as a number.
func (r *FetchResult) Num(key string) (float64, bool) {
	if r.JSON == nil {
		return 0, false
	}
	n, ok := r.JSON[key].(float64)
	return n, ok
}

// Success reports whether the JSON body carries a truthy "success" field.
func (r *FetchResult) Success() bool {
	if r.JSON == nil {
		return false
	}
	b, _ := r.JSON["success"].(bool)
	return b
}

// ErrField returns the JSON "error" field and whether it was present and
// truthy. A truthy error short-circuits success regardless of any other
// field in the response.
func (r *FetchResult) ErrField() (string, bool) {
	if r.JSON == nil {
		return "", false
	}
	switch v := r.JSON["error"].(type) {
	case string:
		if v != "" {
			return v, true
		}
	case bool:
		if v {
			return "true", true
		}
	case nil:
	default:
		return fmt.Sprintf("%v", v), true
	}
	return "", false
}

// Exec describes one local process invocation.
type Exec struct {
	Path string
	Args []string

	// Timeout bounds the process's lifetime. Zero means the executor's
	// default. On expiry the process is killed and the operation fails
	// with a TimeoutError.
	Timeout time.Duration
}

func (e *Exec) Kind() OpKind { return OpKindExec }

func (e *Exec) Describe() string {
	return "exec " + e.Path
}

// ExecResult is the outcome of a completed Exec. A non-zero exit code is
// not an operation failure: workflows interpret exit codes themselves
// (a pdiff binary exits non-zero when images differ).
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}
