// Package worker implements the background ingest worker: a single BRPOP
// consumer that chunks and embeds each queued artifact, with a brief
// sleep-and-continue on error and shutdown honored between jobs.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/memoryd/memoryd/internal/apperr"
	"github.com/memoryd/memoryd/internal/debugmode"
	"github.com/memoryd/memoryd/internal/ingest"
	"github.com/memoryd/memoryd/internal/persist"
	"github.com/memoryd/memoryd/internal/telemetry"
	"github.com/memoryd/memoryd/internal/types"
)

// Dequeuer is the slice of *queue.Queue the worker depends on, narrowed to
// allow a fake in tests.
type Dequeuer interface {
	Dequeue(ctx context.Context, blockFor time.Duration) (map[string]any, error)
}

// Embedder is the slice of *llm.Client the worker depends on.
type Embedder interface {
	EmbedBatch(ctx context.Context, model string, inputs []string) ([][]float64, error)
}

const embedBatchSize = 100

// errArtifactMissingLeaveStuck marks the artifact-not-found case: the job
// is left PROCESSING rather than promoted to FAILED, so callers can retry
// or GC it.
var errArtifactMissingLeaveStuck = fmt.Errorf("worker: artifact missing, leaving job stuck in PROCESSING")

// Worker pops ingest jobs from the queue, chunks + embeds the artifact's
// text, and transitions the job through PROCESSING → COMPLETED/FAILED.
type Worker struct {
	queue      Dequeuer
	jobs       *persist.Repository[types.IngestJob, *types.IngestJob]
	artifacts  *persist.Repository[types.Artifact, *types.Artifact]
	chunks     *persist.Repository[types.ArtifactChunk, *types.ArtifactChunk]
	chunker    *ingest.Chunker
	embed      Embedder
	embedModel string
	blockFor   time.Duration
}

// New wires a Worker over one shared query executor's repositories, an
// embedding client, and the ingestion queue.
func New(
	queue Dequeuer,
	jobs *persist.Repository[types.IngestJob, *types.IngestJob],
	artifacts *persist.Repository[types.Artifact, *types.Artifact],
	chunks *persist.Repository[types.ArtifactChunk, *types.ArtifactChunk],
	embed Embedder,
	embedModel string,
) *Worker {
	return &Worker{
		queue:      queue,
		jobs:       jobs,
		artifacts:  artifacts,
		chunks:     chunks,
		chunker:    ingest.NewChunker(),
		embed:      embed,
		embedModel: embedModel,
		blockFor:   60 * time.Second,
	}
}

// Run blocks, popping and processing jobs until ctx is cancelled. Honors
// shutdown between jobs: an in-flight job always completes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, err := w.queue.Dequeue(ctx, w.blockFor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("ERROR worker: dequeue failed: %v\n", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if payload == nil {
			debugmode.Logf("worker: no job within %s, polling again\n", w.blockFor)
			continue // BRPOP timeout: log-and-continue
		}

		w.processJob(ctx, payload)
	}
}

// processJob drives one job through QUEUED -> PROCESSING -> COMPLETED/FAILED.
func (w *Worker) processJob(ctx context.Context, payload map[string]any) {
	id, _ := payload["id"].(string)
	if id == "" {
		fmt.Printf("WARN worker: job payload missing id, skipping\n")
		return
	}

	job, err := w.jobs.GetByID(ctx, id)
	if err != nil || job == nil {
		fmt.Printf("WARN worker: job %q not found, skipping\n", id)
		return
	}
	if job.Status != types.JobQueued {
		fmt.Printf("WARN worker: job %q has status %q, not QUEUED, skipping\n", id, job.Status)
		return
	}

	job.Status = types.JobProcessing
	if err := w.jobs.Save(ctx, job); err != nil {
		fmt.Printf("ERROR worker: job %q: failed to mark PROCESSING: %v\n", id, err)
		return
	}

	if err := w.chunkAndEmbed(ctx, job); err != nil {
		if err == errArtifactMissingLeaveStuck {
			fmt.Printf("ERROR worker: job %q: %v\n", id, err)
			return
		}
		w.markFailed(ctx, job, err)
		return
	}
	w.markCompleted(ctx, job)
}

// chunkAndEmbed loads the artifact, chunks its raw text, embeds in batches
// of 100, and persists each chunk.
func (w *Worker) chunkAndEmbed(ctx context.Context, job *types.IngestJob) error {
	artifact, err := w.artifacts.GetByID(ctx, job.ArtifactID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return errArtifactMissingLeaveStuck
		}
		return apperr.Transient("worker: load artifact", err)
	}

	texts := w.chunker.SplitText(artifact.RawText)
	meta := mergeMeta(artifact.MetaData, job.MetaData)

	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := w.embed.EmbedBatch(ctx, w.embedModel, batch)
		if err != nil {
			return apperr.Transient("worker: embed batch", err)
		}
		for i, text := range batch {
			chunk := &types.ArtifactChunk{
				Record:     types.Record{MetaData: meta},
				Tenant:     types.Tenant{TenantID: job.TenantID},
				ArtifactID: artifact.ID,
				ChunkIndex: start + i,
				Text:       text,
			}
			if i < len(vectors) {
				chunk.Embedding = vectors[i]
			}
			if err := w.chunks.Save(ctx, chunk); err != nil {
				return apperr.Transient("worker: persist chunk", err)
			}
		}
	}
	return nil
}

// mergeMeta unions artifact.meta_data and job.meta_data, with job entries
// taking precedence on key collision.
func mergeMeta(artifactMeta, jobMeta map[string]any) map[string]any {
	if len(artifactMeta) == 0 && len(jobMeta) == 0 {
		return nil
	}
	out := make(map[string]any, len(artifactMeta)+len(jobMeta))
	for k, v := range artifactMeta {
		out[k] = v
	}
	for k, v := range jobMeta {
		out[k] = v
	}
	return out
}

func (w *Worker) markCompleted(ctx context.Context, job *types.IngestJob) {
	now := time.Now().UTC()
	job.Status = types.JobCompleted
	job.CompletedAt = &now
	if err := w.jobs.Save(ctx, job); err != nil {
		fmt.Printf("ERROR worker: job %q: failed to mark COMPLETED: %v\n", job.ID, err)
		return
	}
	telemetry.RecordJobProcessed(ctx)
}

func (w *Worker) markFailed(ctx context.Context, job *types.IngestJob, cause error) {
	now := time.Now().UTC()
	job.Status = types.JobFailed
	job.ErrorMessage = cause.Error()
	job.CompletedAt = &now
	if err := w.jobs.Save(ctx, job); err != nil {
		fmt.Printf("ERROR worker: job %q: failed to mark FAILED: %v\n", job.ID, err)
	}
	telemetry.RecordJobFailed(ctx)
}
