package domain

// BeginRequest registers an intended transfer.
type BeginRequest struct {
	Name  string       `json:"name" validate:"required,task_name"`
	Type  TransferType `json:"type" validate:"required,oneof=download upload"`
	Total *int64       `json:"total,omitempty" validate:"omitempty,min=0"`
}

// ProgressRequest reports byte counters for a running transfer.
type ProgressRequest struct {
	Loaded int64  `json:"loaded" validate:"min=0"`
	Total  *int64 `json:"total,omitempty" validate:"omitempty,min=0"`
}

// FailRequest reports a failed transfer.
type FailRequest struct {
	Message string `json:"message" validate:"required,max=1024"`
}

// DownloadRequest asks the bundled executor to download URL.
type DownloadRequest struct {
	URL  string `json:"url" validate:"required,url,safe_url"`
	Name string `json:"name,omitempty" validate:"omitempty,task_name"`
}

// UploadRequest asks the bundled executor to upload a stored file to URL.
type UploadRequest struct {
	Name string `json:"name" validate:"required,task_name"`
	URL  string `json:"url" validate:"required,url,safe_url"`
}

// TaskResponse is a task as returned to views, with its derived percentage.
// Percent is nil while progress is indeterminate.
type TaskResponse struct {
	TransferTask
	Percent *float64 `json:"percent"`
}

// CountsResponse drives tab labels. Tab is the type a two-tab view should
// show given the tab it currently shows.
type CountsResponse struct {
	Downloads int          `json:"downloads"`
	Uploads   int          `json:"uploads"`
	Tab       TransferType `json:"tab"`
}

// SnapshotEvent is one frame of the live transfer stream.
type SnapshotEvent struct {
	Version   uint64         `json:"version"`
	Downloads []TaskResponse `json:"downloads"`
	Uploads   []TaskResponse `json:"uploads"`
}

// AcceptedResponse is returned when a bundled transfer is queued.
type AcceptedResponse struct {
	Name string       `json:"name"`
	Type TransferType `json:"type"`
}
