// Package jobs contains the scheduled jobs of the risk analytics worker.
//
// Each job is a small deps-struct type wired in cmd/worker; heavy per-student
// work is never done inline but enqueued on the task queue so a slow scan
// cannot stall the scheduler loop.
package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/queue"
)

// newTask builds a queue task carrying the tenant of the calling context.
func newTask(ctx context.Context, name string, args map[string]string) *queue.Task {
	tenant, _ := shared.TenantFromContext(ctx)
	return &queue.Task{
		ID:     uuid.NewString(),
		Name:   name,
		Tenant: tenant.String(),
		Args:   args,
	}
}
