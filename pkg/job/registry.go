package job

import (
	"sync"
)

// Registry holds the set of active jobs. Jobs are identified by pointer, so
// two jobs with the same name can coexist.
type Registry struct {
	lock sync.Mutex
	jobs []*Job
}

// NewRegistry returns a registry containing `jobs`.
func NewRegistry(jobs ...*Job) *Registry {
	r := &Registry{}
	for _, j := range jobs {
		r.Add(j)
	}
	return r
}

// Add adds `j` to the registry. Adding the same job twice is a no-op.
func (r *Registry) Add(j *Job) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, existing := range r.jobs {
		if existing == j {
			return
		}
	}
	r.jobs = append(r.jobs, j)
}

// Remove removes `j` from the registry, and returns whether it was present.
func (r *Registry) Remove(j *Job) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	for i, existing := range r.jobs {
		if existing == j {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Jobs returns the registered jobs in the order they were added. The
// returned slice is a copy, but the jobs themselves are shared.
func (r *Registry) Jobs() []*Job {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]*Job(nil), r.jobs...)
}

// Named returns the jobs named `name`, in the order they were added. Names
// aren't required to be unique, so more than one job may match.
func (r *Registry) Named(name string) []*Job {
	r.lock.Lock()
	defer r.lock.Unlock()

	var matches []*Job
	for _, j := range r.jobs {
		if j.Name == name {
			matches = append(matches, j)
		}
	}
	return matches
}

// Restore copies the manifest and backup clock of each saved job into the
// registered job that syncs the same directories. It returns the number of
// jobs that were restored. Saved jobs that no longer match a registered job
// are ignored.
func (r *Registry) Restore(saved []*Job) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	var restored int
	for _, j := range r.jobs {
		for _, s := range saved {
			if j.SameTask(s) {
				j.Manifest = s.Manifest.Clone()
				j.LastBackup = s.LastBackup
				restored++
				break
			}
		}
	}
	return restored
}
