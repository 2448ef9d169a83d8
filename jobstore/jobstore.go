// Package jobstore persists install/upgrade jobs per tenant, keyed by
// (tenantId, jobId), over a replicatedmap.Map2. Every write is committed
// eagerly so another gateway instance polling a job sees progress as soon as
// it happens, per the spec's "progress is visible to any other gateway
// instance" requirement.
package jobstore

import (
	"context"
	"errors"
	"sort"

	"github.com/modgateway/lifecycle/depresolver"
	"github.com/modgateway/lifecycle/replicatedmap"
)

// ErrNotFound is returned when a (tenant, job) pair is absent.
var ErrNotFound = errors.New("jobstore: job not found")

// Stage is where one plan item of a job currently stands.
type Stage string

const (
	StagePending  Stage = "pending"
	StageDeploy   Stage = "deploy"
	StageInvoke   Stage = "invoke"
	StageUndeploy Stage = "undeploy"
	StageDone     Stage = "done"
)

// TenantModuleDescriptor is one plan item within an InstallJob.
type TenantModuleDescriptor struct {
	ID      string
	From    string
	Action  depresolver.Action
	Stage   Stage
	Message string
}

// InstallJob is a multi-module install/upgrade/disable job for one tenant.
// StartDate and EndDate are RFC3339 strings, matching the wire format
// JobStore's backing store persists; the empty string means "not set".
type InstallJob struct {
	ID        string
	TenantID  string
	StartDate string
	EndDate   string
	Complete  bool
	Modules   []TenantModuleDescriptor
}

// AllDone reports whether every module in the job has reached a terminal
// stage: StageDone, or any other stage paired with a non-empty Message.
func (j InstallJob) AllDone() bool {
	for _, m := range j.Modules {
		if m.Stage == StageDone {
			continue
		}
		if m.Message == "" {
			return false
		}
	}
	return true
}

// Store is a thin wrapper over a Map2[InstallJob], adding list-by-tenant.
type Store struct {
	jobs replicatedmap.Map2[InstallJob]
}

// New wraps an existing Map2[InstallJob] as a Store.
func New(jobs replicatedmap.Map2[InstallJob]) *Store {
	return &Store{jobs: jobs}
}

// Create inserts a new job, failing with replicatedmap.ErrExists if the
// (tenant, job) id pair is already in use.
func (s *Store) Create(ctx context.Context, job InstallJob) error {
	return s.jobs.Add(ctx, job.TenantID, job.ID, job)
}

// Get returns one job, or ErrNotFound.
func (s *Store) Get(ctx context.Context, tenantID, jobID string) (InstallJob, error) {
	job, err := s.jobs.GetNotFound(ctx, tenantID, jobID)
	if errors.Is(err, replicatedmap.ErrNotFound) {
		return InstallJob{}, ErrNotFound
	}
	return job, err
}

// Update overwrites a job's stored state unconditionally. The InstallEngine
// calls this after every stage transition so progress is visible to any
// other instance polling the job.
func (s *Store) Update(ctx context.Context, job InstallJob) error {
	return s.jobs.Put(ctx, job.TenantID, job.ID, job)
}

// Delete removes a job. Callers must check InstallJob.Complete themselves —
// the spec makes a job deletable only once complete, and that is a
// lifecycle-level policy decision, not a store-level one.
func (s *Store) Delete(ctx context.Context, tenantID, jobID string) error {
	return s.jobs.Remove(ctx, tenantID, jobID)
}

// ListByTenant returns every job for a tenant, ordered by job id ascending.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]InstallJob, error) {
	jobs, err := s.jobs.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}
