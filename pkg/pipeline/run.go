// Package pipeline models the parts of a CI build a step can see: the job
// and run it belongs to, the node it executes on, its build log and the
// environment it passes to nested work.
package pipeline

import (
	"fmt"
	"sync"
)

// Job is a schedulable unit. TopLevel is false for items nested inside
// another job, such as matrix cells.
type Job struct {
	Name     string
	FullName string
	TopLevel bool
}

// Run is one execution of a Job.
type Run struct {
	Job    *Job
	Number int

	mu      sync.Mutex
	actions []interface{}
}

func NewRun(job *Job, number int) *Run {
	return &Run{Job: job, Number: number}
}

// FullDisplayName returns "<full job name> #<number>".
func (r *Run) FullDisplayName() string {
	name := r.Job.FullName
	if name == "" {
		name = r.Job.Name
	}
	return fmt.Sprintf("%s #%d", name, r.Number)
}

func (r *Run) AddAction(action interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

func (r *Run) Actions() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.actions...)
}

// FindAction returns the first action of type T attached to r.
func FindAction[T any](r *Run) (T, bool) {
	var zero T
	for _, a := range r.Actions() {
		if t, ok := a.(T); ok {
			return t, true
		}
	}
	return zero, false
}
