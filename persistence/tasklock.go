package persistence

import (
	"context"
	"time"
)

// TaskType names a kind of exclusive work and how long a lock on it lives
// without renewal.
type TaskType struct {
	Name    string
	Timeout time.Duration
}

func (t TaskType) String() string { return t.Name }

// Task types used by the form-management workers.
var (
	TaskCreateForm            = TaskType{Name: "CREATE_FORM", Timeout: 2 * time.Minute}
	TaskFormDeletion          = TaskType{Name: "FORM_DELETION", Timeout: 2 * time.Minute}
	TaskPurgeOlderSubmissions = TaskType{Name: "PURGE_OLDER_SUBMISSIONS", Timeout: 2 * time.Minute}
	TaskUploadSubmission      = TaskType{Name: "UPLOAD_SUBMISSION", Timeout: 3 * time.Minute}
	TaskWorksheetCreation     = TaskType{Name: "WORKSHEET_CREATION", Timeout: 2 * time.Minute}
	TaskKmlGeneration         = TaskType{Name: "KML_GENERATION", Timeout: 5 * time.Minute}
	TaskCSVGeneration         = TaskType{Name: "CSV_GENERATION", Timeout: 5 * time.Minute}
	TaskJSONGeneration        = TaskType{Name: "JSON_GENERATION", Timeout: 5 * time.Minute}
	TaskStartupSerialization  = TaskType{Name: "STARTUP_SERIALIZATION", Timeout: time.Minute}
)

var taskTypes = []TaskType{
	TaskCreateForm, TaskFormDeletion, TaskPurgeOlderSubmissions, TaskUploadSubmission,
	TaskWorksheetCreation, TaskKmlGeneration, TaskCSVGeneration, TaskJSONGeneration,
	TaskStartupSerialization,
}

// LookupTaskType finds a predefined task type by name.
func LookupTaskType(name string) (TaskType, bool) {
	for _, t := range taskTypes {
		if t.Name == name {
			return t, true
		}
	}
	return TaskType{}, false
}

// MinSettle is the pause between attempts to obtain a contended lock.
const MinSettle = time.Second

// TaskLock is a named, expiring mutex shared by every process using the
// same datastore. Losing a race is reported as false, not as an error.
type TaskLock interface {
	// ObtainLock tries to take the lock on (formID, taskType) under lockID.
	ObtainLock(ctx context.Context, lockID, formID string, taskType TaskType) (bool, error)
	// RenewLock extends a held lock. A lockID held for a different formID or
	// task type is a LockMismatch error.
	RenewLock(ctx context.Context, lockID, formID string, taskType TaskType) (bool, error)
	// ReleaseLock removes lockID. Releasing a lock that is not held succeeds.
	ReleaseLock(ctx context.Context, lockID, formID string, taskType TaskType) (bool, error)
}
