package domain

import (
	"time"
)

// TransferType distinguishes downloads from uploads.
type TransferType string

const (
	TypeDownload TransferType = "download"
	TypeUpload   TransferType = "upload"
)

// Valid reports whether t is one of the known transfer types.
func (t TransferType) Valid() bool {
	return t == TypeDownload || t == TypeUpload
}

// ParseTransferType converts s into a TransferType.
func ParseTransferType(s string) (TransferType, bool) {
	t := TransferType(s)
	return t, t.Valid()
}

// TransferError carries the message reported with a failed transfer.
type TransferError struct {
	Message string `json:"message"`
}

// TransferTask is one tracked upload or download, identified by Name.
type TransferTask struct {
	Name      string         `json:"name"`
	Type      TransferType   `json:"type"`
	Status    TaskStatus     `json:"status"`
	Loaded    int64          `json:"loaded"`
	Total     *int64         `json:"total,omitempty"`
	Error     *TransferError `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasTotal reports whether the total size of the transfer is known.
func (t TransferTask) HasTotal() bool {
	return t.Total != nil
}

// Clone returns a deep copy that shares no pointers with t.
func (t TransferTask) Clone() TransferTask {
	c := t
	if t.Total != nil {
		total := *t.Total
		c.Total = &total
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	return c
}

// Int64 returns a pointer to v, for optional totals.
func Int64(v int64) *int64 {
	return &v
}
