package rest

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openminutes/openminutes/pkg/types"
)

// processTTL is how long a finished process result stays pollable.
const processTTL = time.Hour

type processStatus string

const (
	statusProcessing processStatus = "processing"
	statusCompleted  processStatus = "completed"
	statusError      processStatus = "error"
)

// process is one scheduled extraction run, pollable by id.
type process struct {
	mu        sync.Mutex
	status    processStatus
	summary   *types.SummaryDocument
	tasks     []types.Task
	errMsg    string
	doneAt    time.Time
	meetingID string
}

func (p *process) complete(doc *types.SummaryDocument, tasks []types.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = statusCompleted
	p.summary = doc
	p.tasks = tasks
	p.doneAt = time.Now()
}

func (p *process) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = statusError
	p.errMsg = err.Error()
	p.doneAt = time.Now()
}

// snapshot returns the current state under the lock.
func (p *process) snapshot() (processStatus, *types.SummaryDocument, []types.Task, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.summary, p.tasks, p.errMsg
}

// processRegistry tracks in-flight and recently finished extraction runs.
type processRegistry struct {
	mu    sync.Mutex
	procs map[string]*process
}

func newProcessRegistry() *processRegistry {
	return &processRegistry{procs: make(map[string]*process)}
}

// begin registers a new process and returns its id.
func (r *processRegistry) begin(meetingID string) (string, *process) {
	id := uuid.NewString()
	p := &process{status: statusProcessing, meetingID: meetingID}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	r.procs[id] = p
	return id, p
}

func (r *processRegistry) get(id string) (*process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	return p, ok
}

// prune drops finished processes past the TTL. Caller holds the lock.
func (r *processRegistry) prune() {
	cutoff := time.Now().Add(-processTTL)
	for id, p := range r.procs {
		p.mu.Lock()
		expired := p.status != statusProcessing && p.doneAt.Before(cutoff)
		p.mu.Unlock()
		if expired {
			delete(r.procs, id)
		}
	}
}
