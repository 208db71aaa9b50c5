// Package query derives read-only views from a registry snapshot.
//
// Every function here is total: unknown transfer types yield empty results
// and nothing mutates the snapshot.
package query

import (
	"github.com/veranemoloko/transfer-tracker/internal/domain"
	"github.com/veranemoloko/transfer-tracker/internal/registry"
)

// Counts holds the number of tasks per transfer type, whatever their status.
type Counts struct {
	Downloads int `json:"downloads"`
	Uploads   int `json:"uploads"`
}

// Of returns the count for typ, or zero for an unknown type.
func (c Counts) Of(typ domain.TransferType) int {
	switch typ {
	case domain.TypeDownload:
		return c.Downloads
	case domain.TypeUpload:
		return c.Uploads
	default:
		return 0
	}
}

// ByType returns the tasks of typ in registry insertion order.
func ByType(snap registry.Snapshot, typ domain.TransferType) []domain.TransferTask {
	out := []domain.TransferTask{}
	if !typ.Valid() {
		return out
	}
	for t := range snap.All() {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func CountByType(snap registry.Snapshot) Counts {
	var c Counts
	for t := range snap.All() {
		switch t.Type {
		case domain.TypeDownload:
			c.Downloads++
		case domain.TypeUpload:
			c.Uploads++
		}
	}
	return c
}

// ActiveOfType picks the task a single-transfer indicator should show: the
// first pending or in-progress task of typ by insertion order.
func ActiveOfType(snap registry.Snapshot, typ domain.TransferType) (domain.TransferTask, bool) {
	if !typ.Valid() {
		return domain.TransferTask{}, false
	}
	for t := range snap.All() {
		if t.Type == typ && t.Status.IsActive() {
			return t, true
		}
	}
	return domain.TransferTask{}, false
}

// ProgressPercent returns the completion percentage of task. The second
// result is false while progress is indeterminate: pending tasks, and
// in-progress tasks without a known non-zero total. Finished tasks always
// report 100.
func ProgressPercent(task domain.TransferTask) (float64, bool) {
	switch task.Status {
	case domain.TaskStatusCompleted, domain.TaskStatusFailed:
		return 100, true
	case domain.TaskStatusInProgress:
		if !task.HasTotal() || *task.Total <= 0 {
			return 0, false
		}
		return min(100, float64(task.Loaded)/float64(*task.Total)*100), true
	default:
		return 0, false
	}
}
