package core

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// Fingerprint is the content hash identifying one source document across all
// pipeline stages. It is the idempotency key for relational upserts, vector
// ids and checkpoint bookkeeping.
type Fingerprint string

// FingerprintFromContent derives a deterministic fingerprint from raw
// document content using BLAKE2b. Identical content always produces the same
// fingerprint.
func FingerprintFromContent(content []byte) Fingerprint {
	h, _ := blake2b.New(16, nil)
	h.Write(content)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// ContentType classifies the raw payload of a source document and selects
// the mapping handler applied to it.
type ContentType string

const (
	ContentTypeJSON  ContentType = "json"
	ContentTypeText  ContentType = "text"
	ContentTypePDF   ContentType = "pdf"
	ContentTypeExcel ContentType = "excel"
)

// SourceDescriptor identifies one external source to extract. Descriptors
// are created by the source catalog and never mutated by the pipeline.
type SourceDescriptor struct {
	SourceID    string
	Locator     string // URL or file path
	Category    string
	ContentType ContentType
	TargetTable string // primary fact table this source feeds
}

// ExtractedDocument is the output of the extraction stage: raw content plus
// its fingerprint, consumed by both the structured mapper and the chunker.
type ExtractedDocument struct {
	SourceID    string
	RawContent  string
	ContentType ContentType
	TargetTable string
	ExtractedAt time.Time
	Fingerprint Fingerprint
}

// LookupRef binds a free-text dimension value to its stable surrogate id in
// a lookup table. A ref is never mutated once resolved.
type LookupRef struct {
	Dimension  string
	NaturalKey string
	ResolvedID int64
}

// RecordDraft is one relational row candidate produced by the structured
// mapper. A single document may yield several drafts (a report header plus
// its financial summary rows, for example).
type RecordDraft struct {
	TargetTable string
	Fields      map[string]any
	Lookups     []LookupRef
	Fingerprint Fingerprint
}

// LookupFor returns the resolved ref for a dimension, if present.
func (d *RecordDraft) LookupFor(dimension string) (LookupRef, bool) {
	for _, ref := range d.Lookups {
		if ref.Dimension == dimension {
			return ref, true
		}
	}
	return LookupRef{}, false
}

// TextChunk is one bounded-size segment of a document's normalized text.
// Start and End are rune offsets into the cleaned text delimiting exactly
// Text. Indexes are contiguous from 0 and deterministic for a given text
// and chunk policy.
type TextChunk struct {
	Fingerprint Fingerprint
	Index       int
	Text        string
	Start       int // rune offset, inclusive
	End         int // rune offset, exclusive
}

// EmbeddingVector is the embedding of one text chunk together with scalar
// metadata mirroring the identifying columns of the structured record.
type EmbeddingVector struct {
	Fingerprint Fingerprint
	ChunkIndex  int
	Vector      []float32
	Metadata    map[string]string
}

// VectorID returns the deterministic vector-store id for this embedding.
// Repeated writes of the same item overwrite rather than duplicate.
func (v *EmbeddingVector) VectorID() string {
	return fmt.Sprintf("%s:%d", v.Fingerprint, v.ChunkIndex)
}

// WriteStatus is the terminal state of one dual-store write.
type WriteStatus int

const (
	// WriteCommitted means both the relational and vector phases succeeded.
	WriteCommitted WriteStatus = iota + 1
	// WriteRolledBack means the relational transaction failed and nothing
	// was persisted in either store.
	WriteRolledBack
	// WritePartial means the relational transaction committed but the
	// vector phase failed. Relational data is durable, vectors are missing
	// until a repair pass completes.
	WritePartial
)

func (s WriteStatus) String() string {
	switch s {
	case WriteCommitted:
		return "committed"
	case WriteRolledBack:
		return "rolled_back"
	case WritePartial:
		return "partial"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// RelationalKey is one generated primary key returned by the relational
// store, traceable from vector metadata back to its row.
type RelationalKey struct {
	Table string `json:"table"`
	ID    int64  `json:"id"`
}

// WriteOutcome reports the result of one dual-store write unit.
type WriteOutcome struct {
	Fingerprint    Fingerprint     `json:"fingerprint"`
	RelationalKeys []RelationalKey `json:"relational_keys,omitempty"`
	VectorIDs      []string        `json:"vector_ids,omitempty"`
	Status         WriteStatus     `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// Stage identifies one pipeline stage.
type Stage int

const (
	StageExtraction Stage = iota + 1
	StageProcessing
	StageVectorization
	StageLoading
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageExtraction, StageProcessing, StageVectorization, StageLoading}

func (s Stage) String() string {
	switch s {
	case StageExtraction:
		return "extraction"
	case StageProcessing:
		return "processing"
	case StageVectorization:
		return "vectorization"
	case StageLoading:
		return "loading"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Next returns the stage following s, or 0 when s is the last stage.
func (s Stage) Next() Stage {
	if s >= StageLoading {
		return 0
	}
	return s + 1
}

// RunState is the coordinator's state machine position for a run.
type RunState int

const (
	RunExtracting RunState = iota + 1
	RunProcessing
	RunVectorizing
	RunLoading
	RunDone
	RunPaused
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunExtracting:
		return "EXTRACTING"
	case RunProcessing:
		return "PROCESSING"
	case RunVectorizing:
		return "VECTORIZING"
	case RunLoading:
		return "LOADING"
	case RunDone:
		return "DONE"
	case RunPaused:
		return "PAUSED"
	case RunFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state ends the current process's involvement
// with the run. PAUSED is terminal for the process but resumable by a new
// run using the persisted checkpoint.
func (s RunState) Terminal() bool {
	return s == RunDone || s == RunPaused || s == RunFailed
}

// StateForStage returns the running state corresponding to a stage.
func StateForStage(stage Stage) RunState {
	switch stage {
	case StageExtraction:
		return RunExtracting
	case StageProcessing:
		return RunProcessing
	case StageVectorization:
		return RunVectorizing
	case StageLoading:
		return RunLoading
	default:
		return RunFailed
	}
}

// Checkpoint is the persisted record of which stages and which item
// fingerprints a run has completed, enabling resume after a crash or pause.
type Checkpoint struct {
	RunID     string                  `json:"run_id"`
	Stage     Stage                   `json:"stage"` // last fully completed stage, 0 if none
	Completed map[Stage][]Fingerprint `json:"completed"`
	Attempts  int                     `json:"attempts"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NewCheckpoint creates an empty checkpoint for a run.
func NewCheckpoint(runID string) *Checkpoint {
	return &Checkpoint{
		RunID:     runID,
		Completed: make(map[Stage][]Fingerprint),
	}
}

// CompletedSet returns the fingerprints completed for a stage as a set.
func (c *Checkpoint) CompletedSet(stage Stage) map[Fingerprint]struct{} {
	set := make(map[Fingerprint]struct{}, len(c.Completed[stage]))
	for _, fp := range c.Completed[stage] {
		set[fp] = struct{}{}
	}
	return set
}

// MarkCompleted records fingerprints as completed for a stage, skipping
// duplicates so repeated marking stays idempotent.
func (c *Checkpoint) MarkCompleted(stage Stage, fps ...Fingerprint) {
	if c.Completed == nil {
		c.Completed = make(map[Stage][]Fingerprint)
	}
	seen := c.CompletedSet(stage)
	for _, fp := range fps {
		if _, ok := seen[fp]; ok {
			continue
		}
		c.Completed[stage] = append(c.Completed[stage], fp)
		seen[fp] = struct{}{}
	}
}

// RunRecord is the persisted summary of a pipeline run: its state machine
// position and timing, without the per-item detail held by the checkpoint.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	State     RunState  `json:"state"`
	Simulate  bool      `json:"simulate,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemFailure records one per-item failure inside a stage.
type ItemFailure struct {
	Fingerprint Fingerprint
	SourceID    string
	Err         error
}

// Reason returns the failure's message, empty when Err is nil.
func (f ItemFailure) Reason() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// StageReport summarizes one stage's batch execution. Slices preserve the
// batch's input order for diagnostics even though items run concurrently.
type StageReport struct {
	Stage     Stage
	Succeeded []Fingerprint
	Failed    []ItemFailure
	Skipped   []Fingerprint
}

// FailureRate returns failed/(succeeded+failed). Skipped items are excluded:
// they were completed by a previous run and say nothing about this one.
func (r *StageReport) FailureRate() float64 {
	attempted := len(r.Succeeded) + len(r.Failed)
	if attempted == 0 {
		return 0
	}
	return float64(len(r.Failed)) / float64(attempted)
}

// FailureReasons returns the recorded failure messages in input order.
func (r *StageReport) FailureReasons() []string {
	reasons := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		reasons[i] = f.Reason()
	}
	return reasons
}
