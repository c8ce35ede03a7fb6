package release

import (
	"net/url"
	"os"
	"strconv"

	"github.com/petrijr/snapdiff/pkg/api"
)

// CreateReleaseWorkflow creates a new release candidate.
//
// Returns a *Release carrying the server-assigned release number.
// Fails with *CreateReleaseError if the server reports an error or the
// response lacks a release number.
type CreateReleaseWorkflow struct {
	API         *API
	BuildID     int64
	ReleaseName string
}

func (w *CreateReleaseWorkflow) TaskName() string { return "create-release" }

func (w *CreateReleaseWorkflow) Run(tc *api.TaskContext) (any, error) {
	res, err := tc.Wait(&api.Fetch{
		URL: w.API.url("/create_release"),
		Form: url.Values{
			"build_id":     {strconv.FormatInt(w.BuildID, 10)},
			"release_name": {w.ReleaseName},
		},
	})
	if err != nil {
		return nil, err
	}
	call := res.(*api.FetchResult)

	if msg, ok := call.ErrField(); ok {
		return nil, &CreateReleaseError{Reason: msg}
	}
	// A zero release number is as useless as a missing one; servers
	// count releases from 1.
	number, ok := call.Num("release_number")
	if !ok || number == 0 {
		return nil, &CreateReleaseError{Reason: badResponse(call)}
	}

	return &Release{
		BuildID: w.BuildID,
		Name:    w.ReleaseName,
		Number:  int64(number),
	}, nil
}

// UploadFileWorkflow uploads one file to the content-addressed store.
//
// Returns the file's hex SHA-1 as a string, or nil if the file does not
// exist locally, a recoverable condition distinct from an upload
// failure, since some reports are optional. Fails with
// *UploadFileError if the server rejects the upload or echoes back a
// hash that does not match the bytes actually transmitted.
type UploadFileWorkflow struct {
	API  *API
	Path string
}

func (w *UploadFileWorkflow) TaskName() string { return "upload-file" }

func (w *UploadFileWorkflow) Run(tc *api.TaskContext) (any, error) {
	hf, err := api.OpenHashFile(w.Path)
	if err != nil {
		// Nothing to upload. The caller decides whether an absent
		// artifact matters.
		return nil, nil
	}

	res, err := tc.Wait(&api.Fetch{
		URL:     w.API.url("/upload"),
		Files:   map[string]*api.HashFile{"file": hf},
		Timeout: w.API.UploadTimeout,
	})
	if err != nil {
		// The executor closes the file once the op is dispatched; a
		// yield that never got that far leaves it to us.
		hf.Close()
		return nil, err
	}
	call := res.(*api.FetchResult)

	if msg, ok := call.ErrField(); ok {
		return nil, &UploadFileError{Reason: msg}
	}

	sha1sum := hf.Sum()
	if call.Str("sha1sum") != sha1sum {
		return nil, &UploadFileError{Reason: badResponse(call)}
	}

	return sha1sum, nil
}

// ReportRunWorkflow reports a capture run as finished: the screenshot,
// log, and config upload concurrently (a 3-way join), then one call
// carries the three resulting hashes.
type ReportRunWorkflow struct {
	API            *API
	BuildID        int64
	ReleaseName    string
	ReleaseNumber  int64
	RunName        string
	ScreenshotPath string
	LogPath        string
	ConfigPath     string
}

func (w *ReportRunWorkflow) TaskName() string { return "report-run" }

func (w *ReportRunWorkflow) Run(tc *api.TaskContext) (any, error) {
	uploads, err := tc.WaitAll(
		&UploadFileWorkflow{API: w.API, Path: w.ScreenshotPath},
		&UploadFileWorkflow{API: w.API, Path: w.LogPath},
		&UploadFileWorkflow{API: w.API, Path: w.ConfigPath},
	)
	if err != nil {
		return nil, err
	}

	res, err := tc.Wait(&api.Fetch{
		URL: w.API.url("/report_run"),
		Form: url.Values{
			"build_id":       {strconv.FormatInt(w.BuildID, 10)},
			"release_name":   {w.ReleaseName},
			"release_number": {strconv.FormatInt(w.ReleaseNumber, 10)},
			"run_name":       {w.RunName},
			"image":          {uploadID(uploads[0])},
			"log":            {uploadID(uploads[1])},
			"config":         {uploadID(uploads[2])},
		},
	})
	if err != nil {
		return nil, err
	}
	call := res.(*api.FetchResult)

	if msg, ok := call.ErrField(); ok {
		return nil, &ReportRunError{Reason: msg}
	}
	if !call.Success() {
		return nil, &ReportRunError{Reason: badResponse(call)}
	}
	return nil, nil
}

// ReportPdiffWorkflow reports a pdiff's result status. The diff image
// and diff log upload concurrently, but only when both exist on disk;
// otherwise the report explicitly carries no_diff and nothing uploads.
type ReportPdiffWorkflow struct {
	API           *API
	BuildID       int64
	ReleaseName   string
	ReleaseNumber int64
	RunName       string

	// DiffPath and LogPath may be empty or point at files that were
	// never produced; either case means "no diff".
	DiffPath string
	LogPath  string
}

func (w *ReportPdiffWorkflow) TaskName() string { return "report-pdiff" }

func (w *ReportPdiffWorkflow) Run(tc *api.TaskContext) (any, error) {
	var diffID, logID, noDiff string
	if isFile(w.DiffPath) && isFile(w.LogPath) {
		uploads, err := tc.WaitAll(
			&UploadFileWorkflow{API: w.API, Path: w.DiffPath},
			&UploadFileWorkflow{API: w.API, Path: w.LogPath},
		)
		if err != nil {
			return nil, err
		}
		diffID = uploadID(uploads[0])
		logID = uploadID(uploads[1])
	} else {
		noDiff = "true"
	}

	res, err := tc.Wait(&api.Fetch{
		URL: w.API.url("/report_pdiff"),
		Form: url.Values{
			"build_id":       {strconv.FormatInt(w.BuildID, 10)},
			"release_name":   {w.ReleaseName},
			"release_number": {strconv.FormatInt(w.ReleaseNumber, 10)},
			"run_name":       {w.RunName},
			"diff_image":     {diffID},
			"diff_log":       {logID},
			"no_diff":        {noDiff},
		},
	})
	if err != nil {
		return nil, err
	}
	call := res.(*api.FetchResult)

	if msg, ok := call.ErrField(); ok {
		return nil, &ReportPdiffError{Reason: msg}
	}
	if !call.Success() {
		return nil, &ReportPdiffError{Reason: badResponse(call)}
	}
	return nil, nil
}

// RunsDoneWorkflow marks all runs for a release candidate as reported.
type RunsDoneWorkflow struct {
	API           *API
	BuildID       int64
	ReleaseName   string
	ReleaseNumber int64
}

func (w *RunsDoneWorkflow) TaskName() string { return "runs-done" }

func (w *RunsDoneWorkflow) Run(tc *api.TaskContext) (any, error) {
	res, err := tc.Wait(&api.Fetch{
		URL: w.API.url("/runs_done"),
		Form: url.Values{
			"build_id":       {strconv.FormatInt(w.BuildID, 10)},
			"release_name":   {w.ReleaseName},
			"release_number": {strconv.FormatInt(w.ReleaseNumber, 10)},
		},
	})
	if err != nil {
		return nil, err
	}
	call := res.(*api.FetchResult)

	if msg, ok := call.ErrField(); ok {
		return nil, &RunsDoneError{Reason: msg}
	}
	if !call.Success() {
		return nil, &RunsDoneError{Reason: badResponse(call)}
	}
	return call.Str("url"), nil
}

// DownloadArtifactWorkflow fetches an artifact by content hash,
// streaming it straight to OutputPath. A configured cache is consulted
// first and updated afterwards, so re-leased work re-downloads nothing.
type DownloadArtifactWorkflow struct {
	API        *API
	SHA1Sum    string
	OutputPath string
}

func (w *DownloadArtifactWorkflow) TaskName() string { return "download-artifact" }

func (w *DownloadArtifactWorkflow) Run(tc *api.TaskContext) (any, error) {
	if w.API.Cache != nil {
		if cached, err := w.API.Cache.LookupArtifact(w.SHA1Sum); err == nil {
			if _, err := copyFile(w.OutputPath, cached); err == nil {
				return nil, nil
			}
			// Stale index entry (cached file vanished): drop it and
			// fall through to a real download.
			_ = w.API.Cache.DeleteArtifact(w.SHA1Sum)
		}
	}

	res, err := tc.Wait(&api.Fetch{
		URL:        w.API.url("/download?sha1sum=" + url.QueryEscape(w.SHA1Sum)),
		OutputPath: w.OutputPath,
	})
	if err != nil {
		return nil, err
	}
	call := res.(*api.FetchResult)
	if call.StatusCode != 200 {
		return nil, &DownloadArtifactError{Reason: badResponse(call)}
	}

	w.cachePut()
	return nil, nil
}

func (w *DownloadArtifactWorkflow) cachePut() {
	if w.API.Cache == nil || w.API.CacheDir == "" {
		return
	}
	cachedPath := w.API.cachePath(w.SHA1Sum)
	n, err := copyFile(cachedPath, w.OutputPath)
	if err != nil {
		return
	}
	_ = w.API.Cache.PutArtifact(w.SHA1Sum, cachedPath, n)
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
