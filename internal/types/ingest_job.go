package types

import (
	"time"

	"github.com/memoryd/memoryd/internal/model"
)

// JobStatus enumerates the ingest job lifecycle states.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobCancelled  JobStatus = "CANCELLED"
)

// IngestJob drives the worker. CompletedAt is set iff Status is COMPLETED
// or FAILED.
type IngestJob struct {
	Record
	Tenant
	Status       JobStatus  `json:"status"`
	ArtifactID   string     `json:"artifact_id"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (IngestJob) TableName() string { return "ingest-job" }

func (IngestJob) Fields() []model.FieldDescriptor {
	return []model.FieldDescriptor{
		{Name: "id", Type: model.TypeString},
		{Name: "created_at", Type: model.TypeDatetime},
		{Name: "updated_at", Type: model.TypeDatetime},
		{Name: "is_deleted", Type: model.TypeBool},
		{Name: "meta_data", Type: model.TypeObject},
		{Name: "tenant_id", Type: model.TypeString, IndexName: "ingest_job_tenant_idx"},
		{Name: "status", Type: model.TypeString, IndexName: "ingest_job_status_idx"},
		{Name: "artifact_id", Type: model.TypeRecord, Ref: "artifact", IndexName: "ingest_job_artifact_idx"},
		{Name: "error_message", Type: model.TypeOption, Inner: model.TypeString},
		{Name: "completed_at", Type: model.TypeOption, Inner: model.TypeDatetime},
	}
}

func init() {
	model.Register(model.Registration{Table: IngestJob{}.TableName(), Fields: IngestJob{}.Fields()})
}

// IsTerminal reports whether the status is one CompletedAt must be set for.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}
