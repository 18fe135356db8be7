package types

import "github.com/memoryd/memoryd/internal/model"

// Artifact is a graph node: one ingested document/message/event blob with
// optional raw text.
type Artifact struct {
	Record
	Tenant
	Authorizable
	URI        string         `json:"uri,omitempty"`
	SensorName string         `json:"sensor_name,omitempty"`
	RawText    string         `json:"raw_text,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (Artifact) TableName() string { return "artifact" }

func (Artifact) Fields() []model.FieldDescriptor {
	return []model.FieldDescriptor{
		{Name: "id", Type: model.TypeString, IsGraphNode: true},
		{Name: "created_at", Type: model.TypeDatetime},
		{Name: "updated_at", Type: model.TypeDatetime},
		{Name: "is_deleted", Type: model.TypeBool},
		{Name: "meta_data", Type: model.TypeObject},
		{Name: "tenant_id", Type: model.TypeString, IndexName: "artifact_tenant_idx"},
		{Name: "uri", Type: model.TypeString},
		{Name: "sensor_name", Type: model.TypeString, IndexName: "artifact_sensor_idx"},
		{Name: "raw_text", Type: model.TypeString},
		{Name: "data", Type: model.TypeObject},
	}
}

func init() {
	model.Register(model.Registration{Table: Artifact{}.TableName(), Fields: Artifact{}.Fields()})
}

// ArtifactChunk is one windowed slice of an artifact's text with an
// embedding. Text is fulltext-indexed; Embedding is vector-indexed.
type ArtifactChunk struct {
	Record
	Tenant
	ArtifactID string    `json:"artifact_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

func (ArtifactChunk) TableName() string { return "artifact-chunk" }

func (ArtifactChunk) Fields() []model.FieldDescriptor {
	return []model.FieldDescriptor{
		{Name: "id", Type: model.TypeString},
		{Name: "created_at", Type: model.TypeDatetime},
		{Name: "updated_at", Type: model.TypeDatetime},
		{Name: "is_deleted", Type: model.TypeBool},
		{Name: "meta_data", Type: model.TypeObject},
		{Name: "tenant_id", Type: model.TypeString, IndexName: "artifact_chunk_tenant_idx"},
		{Name: "artifact_id", Type: model.TypeRecord, Ref: "artifact", IndexName: "artifact_chunk_artifact_idx"},
		{Name: "chunk_index", Type: model.TypeInt, IndexName: "artifact_chunk_unique_idx"},
		{Name: "text", Type: model.TypeString, IsFulltextField: true, IndexName: "artifact_chunk_text_idx"},
		{Name: "embedding", Type: model.TypeOption, Inner: model.TypeArray, IsVectorField: true, IndexName: "artifact_chunk_embedding_idx"},
	}
}

func init() {
	model.Register(model.Registration{Table: ArtifactChunk{}.TableName(), Fields: ArtifactChunk{}.Fields()})
}
