package query

import (
	"github.com/veranemoloko/transfer-tracker/internal/domain"
	"github.com/veranemoloko/transfer-tracker/internal/registry"
)

// TaskView pairs a task with its derived progress for list rendering.
type TaskView struct {
	Task        domain.TransferTask
	Percent     float64
	Determinate bool
}

func NewTaskView(task domain.TransferTask) TaskView {
	percent, ok := ProgressPercent(task)
	return TaskView{Task: task, Percent: percent, Determinate: ok}
}

// Summarize returns the views for every task of typ in insertion order.
func Summarize(snap registry.Snapshot, typ domain.TransferType) []TaskView {
	tasks := ByType(snap, typ)
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, NewTaskView(t))
	}
	return out
}

// DefaultTab decides which type a two-tab progress list should show. It
// keeps current unless current has no tasks while the other type does.
// Unknown values fall back to downloads.
func DefaultTab(c Counts, current domain.TransferType) domain.TransferType {
	if !current.Valid() {
		current = domain.TypeDownload
	}
	other := domain.TypeUpload
	if current == domain.TypeUpload {
		other = domain.TypeDownload
	}
	if c.Of(current) == 0 && c.Of(other) > 0 {
		return other
	}
	return current
}
