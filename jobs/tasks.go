package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile compares AR/AP control accounts with their subledgers.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskGLIntegrity scans posted journals for unbalanced entries.
	TaskGLIntegrity = "ledger:gl_integrity"
)

// CompaniesPayload scopes a ledger task. Empty means every configured company.
type CompaniesPayload struct {
	CompanyIDs []int64 `json:"company_ids,omitempty"`
}

// NewReconcileTask builds a ledger:reconcile task.
func NewReconcileTask(companyIDs ...int64) (*asynq.Task, error) {
	return newCompaniesTask(TaskLedgerReconcile, companyIDs)
}

// NewGLIntegrityTask builds a ledger:gl_integrity task.
func NewGLIntegrityTask(companyIDs ...int64) (*asynq.Task, error) {
	return newCompaniesTask(TaskGLIntegrity, companyIDs)
}

// NewTask builds a task by type name.
func NewTask(taskType string, companyIDs ...int64) (*asynq.Task, error) {
	return newCompaniesTask(taskType, companyIDs)
}

func newCompaniesTask(taskType string, companyIDs []int64) (*asynq.Task, error) {
	data, err := json.Marshal(CompaniesPayload{CompanyIDs: companyIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data, asynq.Queue(QueueDefault)), nil
}

func decodeCompanies(t *asynq.Task, fallback []int64) ([]int64, error) {
	var payload CompaniesPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return nil, err
		}
	}
	if len(payload.CompanyIDs) == 0 {
		return fallback, nil
	}
	return payload.CompanyIDs, nil
}
