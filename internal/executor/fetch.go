package executor

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/petrijr/snapdiff/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FetchConfig tunes the HTTP executor pool.
type FetchConfig struct {
	// Workers is the number of concurrent HTTP calls. Defaults to 4.
	Workers int

	// QueueDepth bounds the dispatch queue. Defaults to 1024.
	QueueDepth int

	// DefaultTimeout applies to operations with a zero Timeout.
	// Defaults to 60s.
	DefaultTimeout time.Duration

	// Client, if non-nil, replaces the default http.Client. The client
	// must not set its own Timeout; per-operation deadlines are applied
	// via context.
	Client *http.Client
}

// NewFetchPool builds the executor pool for api.Fetch operations.
func NewFetchPool(cfg FetchConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	f := &fetcher{client: client, defaultTimeout: cfg.DefaultTimeout}
	return NewPool("fetch", cfg.Workers, cfg.QueueDepth, f.run)
}

type fetcher struct {
	client         *http.Client
	defaultTimeout time.Duration
}

func (f *fetcher) run(ctx context.Context, op api.Operation) (any, error) {
	fetch, ok := op.(*api.Fetch)
	if !ok {
		return nil, fmt.Errorf("fetch executor got %T", op)
	}

	timeout := fetch.Timeout
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Every streamed file is closed exactly once, whatever happens to
	// the request itself.
	defer closeFiles(fetch)

	req, err := buildRequest(ctx, fetch)
	if err != nil {
		return nil, &api.OpError{Op: fetch.Describe(), Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &api.TimeoutError{Op: fetch.Describe(), Timeout: timeout}
		}
		return nil, &api.OpError{Op: fetch.Describe(), Err: err}
	}
	defer resp.Body.Close()

	result := &api.FetchResult{StatusCode: resp.StatusCode}

	if fetch.OutputPath != "" {
		if err := streamToFile(fetch.OutputPath, resp.Body); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, &api.TimeoutError{Op: fetch.Describe(), Timeout: timeout}
			}
			return nil, &api.OpError{Op: fetch.Describe(), Err: err}
		}
		return result, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &api.TimeoutError{Op: fetch.Describe(), Timeout: timeout}
		}
		return nil, &api.OpError{Op: fetch.Describe(), Err: err}
	}
	result.Body = body

	// Best-effort JSON view: a body that does not parse as an object
	// simply leaves JSON nil, and the workflow treats that as a bad
	// response where it matters.
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		result.JSON = obj
	}

	return result, nil
}

func buildRequest(ctx context.Context, fetch *api.Fetch) (*http.Request, error) {
	if len(fetch.Files) > 0 {
		return buildMultipartRequest(ctx, fetch)
	}

	if len(fetch.Form) > 0 {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fetch.URL,
			strings.NewReader(fetch.Form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	return http.NewRequestWithContext(ctx, http.MethodGet, fetch.URL, nil)
}

// buildMultipartRequest streams form fields and files through an
// io.Pipe so large artifacts are never buffered in memory. Reading a
// HashFile here is what feeds its running digest.
func buildMultipartRequest(ctx context.Context, fetch *api.Fetch) (*http.Request, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, fetch)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fetch.URL, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func writeMultipart(mw *multipart.Writer, fetch *api.Fetch) error {
	for key, values := range fetch.Form {
		for _, v := range values {
			if err := mw.WriteField(key, v); err != nil {
				return err
			}
		}
	}

	// Deterministic field order keeps request bodies reproducible.
	names := make([]string, 0, len(fetch.Files))
	for name := range fetch.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		hf := fetch.Files[name]
		part, err := mw.CreateFormFile(name, hf.Base())
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, hf); err != nil {
			return err
		}
	}
	return nil
}

func closeFiles(fetch *api.Fetch) {
	for _, hf := range fetch.Files {
		_ = hf.Close()
	}
}

func streamToFile(path string, body io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}
