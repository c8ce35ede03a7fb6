package release

// Each workflow raises its own failure kind so callers can discriminate
// causes: "the remote call completed but reported failure" and "the
// response was malformed" both surface as the workflow's error type,
// while transport-level failures (timeouts, connection errors) keep
// their operation-level types and propagate unchanged.

type CreateReleaseError struct{ Reason string }

func (e *CreateReleaseError) Error() string { return "create release failed: " + e.Reason }

type UploadFileError struct{ Reason string }

func (e *UploadFileError) Error() string { return "upload file failed: " + e.Reason }

type ReportRunError struct{ Reason string }

func (e *ReportRunError) Error() string { return "report run failed: " + e.Reason }

type ReportPdiffError struct{ Reason string }

func (e *ReportPdiffError) Error() string { return "report pdiff failed: " + e.Reason }

type RunsDoneError struct{ Reason string }

func (e *RunsDoneError) Error() string { return "runs done failed: " + e.Reason }

type DownloadArtifactError struct{ Reason string }

func (e *DownloadArtifactError) Error() string { return "download artifact failed: " + e.Reason }
