package cron

import "context"

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// ExclusiveJob marks jobs over shared state; they only run while holding
// the cron lock.
type ExclusiveJob interface {
	Job
	Exclusive() bool
}

func isExclusive(job Job) bool {
	e, ok := job.(ExclusiveJob)
	return ok && e.Exclusive()
}

// Registry keeps jobs in registration order.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
