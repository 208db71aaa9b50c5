package registry

import (
	"iter"

	"github.com/veranemoloko/transfer-tracker/internal/domain"
)

// Snapshot is an immutable, ordered view of the registry as of one mutation.
//
// Tasks are kept in insertion order. Every accessor hands out copies, so a
// consumer can never reach the registry's internal state through it.
type Snapshot struct {
	version uint64
	tasks   []domain.TransferTask
	index   map[string]int
}

// NewSnapshot builds a snapshot from tasks in the given order. Later tasks
// with a duplicate name replace earlier ones in place.
func NewSnapshot(version uint64, tasks ...domain.TransferTask) Snapshot {
	s := Snapshot{
		version: version,
		tasks:   make([]domain.TransferTask, 0, len(tasks)),
		index:   make(map[string]int, len(tasks)),
	}
	for _, t := range tasks {
		if i, ok := s.index[t.Name]; ok {
			s.tasks[i] = t.Clone()
			continue
		}
		s.index[t.Name] = len(s.tasks)
		s.tasks = append(s.tasks, t.Clone())
	}
	return s
}

// Version increases by one with every effective registry mutation.
func (s Snapshot) Version() uint64 {
	return s.version
}

func (s Snapshot) Len() int {
	return len(s.tasks)
}

// All iterates over copies of the tasks in insertion order.
func (s Snapshot) All() iter.Seq[domain.TransferTask] {
	return func(yield func(domain.TransferTask) bool) {
		for _, t := range s.tasks {
			if !yield(t.Clone()) {
				return
			}
		}
	}
}

// Tasks returns copies of all tasks in insertion order.
func (s Snapshot) Tasks() []domain.TransferTask {
	out := make([]domain.TransferTask, 0, len(s.tasks))
	for t := range s.All() {
		out = append(out, t)
	}
	return out
}

// Get returns a copy of the named task.
func (s Snapshot) Get(name string) (domain.TransferTask, bool) {
	i, ok := s.index[name]
	if !ok {
		return domain.TransferTask{}, false
	}
	return s.tasks[i].Clone(), true
}
