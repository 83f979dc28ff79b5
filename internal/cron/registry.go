package cron

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Job is one unit of scheduled work. Names are unique within a Registry and
// double as the metrics label.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

var ErrDuplicateJob = errors.New("cron: duplicate job name")

// Registry holds jobs in registration order.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{names: make(map[string]struct{}, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return errors.New("cron: nil job")
	}
	name := job.Name()
	if name == "" {
		return errors.New("cron: job name is required")
	}
	if r.names == nil {
		r.names = make(map[string]struct{})
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	return slices.Clone(r.jobs)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
