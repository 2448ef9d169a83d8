package jobstore

import (
	"context"
	"testing"

	"github.com/modgateway/lifecycle/depresolver"
	"github.com/modgateway/lifecycle/replicatedmap"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := New(replicatedmap.NewLocalMap2[InstallJob]())

	job := InstallJob{
		ID:       "job-1",
		TenantID: "tenant-a",
		Modules:  []TenantModuleDescriptor{{ID: "users-1.0.0", Action: depresolver.ActionEnable, Stage: StagePending}},
	}
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, "tenant-a", "job-1")
	require.NoError(t, err)
	require.Equal(t, job, got)

	_, err = s.Get(ctx, "tenant-a", "no-such-job")
	require.ErrorIs(t, err, ErrNotFound)

	job.Modules[0].Stage = StageDone
	require.NoError(t, s.Update(ctx, job))

	got, err = s.Get(ctx, "tenant-a", "job-1")
	require.NoError(t, err)
	require.Equal(t, StageDone, got.Modules[0].Stage)
}

func TestStoreListByTenant(t *testing.T) {
	ctx := context.Background()
	s := New(replicatedmap.NewLocalMap2[InstallJob]())

	require.NoError(t, s.Create(ctx, InstallJob{ID: "job-2", TenantID: "tenant-a"}))
	require.NoError(t, s.Create(ctx, InstallJob{ID: "job-1", TenantID: "tenant-a"}))
	require.NoError(t, s.Create(ctx, InstallJob{ID: "job-1", TenantID: "tenant-b"}))

	jobs, err := s.ListByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-1", jobs[0].ID)
	require.Equal(t, "job-2", jobs[1].ID)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := New(replicatedmap.NewLocalMap2[InstallJob]())
	require.NoError(t, s.Create(ctx, InstallJob{ID: "job-1", TenantID: "tenant-a", Complete: true}))
	require.NoError(t, s.Delete(ctx, "tenant-a", "job-1"))
	_, err := s.Get(ctx, "tenant-a", "job-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAllDone(t *testing.T) {
	job := InstallJob{Modules: []TenantModuleDescriptor{
		{ID: "a", Stage: StageDone},
		{ID: "b", Stage: StageInvoke, Message: "deploy failed"},
	}}
	require.True(t, job.AllDone())

	job.Modules = append(job.Modules, TenantModuleDescriptor{ID: "c", Stage: StageDeploy})
	require.False(t, job.AllDone())
}
