// Package release is the workflow library for talking to the
// release-tracking server: creating release candidates, uploading
// content-addressed artifacts, reporting run and pdiff results, and
// downloading artifacts by hash.
//
// Every workflow here is a short sequence of yields built purely on the
// engine primitives in pkg/api, and every side effect is idempotent:
// uploads are content-addressed and report calls are keyed by stable
// identifiers, so re-executing a workflow (as at-least-once queue
// delivery requires) cannot corrupt remote state.
package release

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/petrijr/snapdiff/internal/artifactcache"
	"github.com/petrijr/snapdiff/pkg/api"
)

// API carries the explicit configuration shared by the workflows in
// this package. It replaces any notion of global flag state.
type API struct {
	// ServerPrefix is the URL prefix of the release server, such as
	// "http://www.example.com/here/is/my/api".
	ServerPrefix string

	// UploadTimeout bounds each file upload. Zero uses the fetch
	// executor's default.
	UploadTimeout time.Duration

	// Cache, if non-nil, short-circuits artifact downloads that are
	// already present locally and records new downloads. CacheDir is
	// where cached copies live; both must be set together.
	Cache    *artifactcache.Store
	CacheDir string
}

func (a *API) url(path string) string {
	return a.ServerPrefix + path
}

// cachePath is where a cached copy of the given artifact lives.
func (a *API) cachePath(sha1sum string) string {
	return filepath.Join(a.CacheDir, sha1sum)
}

// Release identifies one release candidate on the server.
type Release struct {
	BuildID int64
	Name    string
	Number  int64
}

// uploadID converts a joined upload result back to a hash string.
// A nil result means the file did not exist locally ("nothing to
// upload") and is reported as an empty field.
func uploadID(v any) string {
	s, _ := v.(string)
	return s
}

// badResponse renders a short description of an unusable server reply.
func badResponse(call *api.FetchResult) string {
	body := call.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("bad response: status=%d body=%q", call.StatusCode, body)
}

// copyFile copies src to dst, creating or truncating dst.
func copyFile(dst, src string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}
