// Package domain defines the core entities shared by the retrieval and
// ingestion pipelines: containers, documents, chunks, jobs, graph records,
// and the resolved per-container policy.
package domain

// Modality identifies the kind of source content a container accepts.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityPDF   Modality = "pdf"
	ModalityImage Modality = "image"
)

// Valid reports whether the modality is one of the supported kinds.
func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityPDF, ModalityImage:
		return true
	}
	return false
}

// ContainerState is the lifecycle state of a container.
type ContainerState string

const (
	ContainerActive   ContainerState = "active"
	ContainerPaused   ContainerState = "paused"
	ContainerArchived ContainerState = "archived"
)

// DocumentState tracks whether a document is served or tombstoned.
type DocumentState string

const (
	DocumentActive  DocumentState = "active"
	DocumentDeleted DocumentState = "deleted"
)

// JobKind enumerates the async work types the queue carries.
type JobKind string

const (
	JobIngest       JobKind = "ingest"
	JobRefresh      JobKind = "refresh"
	JobExport       JobKind = "export"
	JobGraphExtract JobKind = "graph_extract"
)

// JobState follows the queued → running → done|failed machine.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Terminal reports whether the state permits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// SearchMode selects which retrieval stages a request runs.
type SearchMode string

const (
	ModeSemantic    SearchMode = "semantic"
	ModeBM25        SearchMode = "bm25"
	ModeHybrid      SearchMode = "hybrid"
	ModeCrossmodal  SearchMode = "crossmodal"
	ModeGraph       SearchMode = "graph"
	ModeHybridGraph SearchMode = "hybrid_graph"
)

// Valid reports whether the mode is recognized.
func (m SearchMode) Valid() bool {
	switch m {
	case ModeSemantic, ModeBM25, ModeHybrid, ModeCrossmodal, ModeGraph, ModeHybridGraph:
		return true
	}
	return false
}

// WantsDense reports whether the mode requires a query embedding.
func (m SearchMode) WantsDense() bool {
	switch m {
	case ModeSemantic, ModeHybrid, ModeCrossmodal, ModeHybridGraph:
		return true
	}
	return false
}

// WantsLexical reports whether the mode runs the BM25 stage.
func (m SearchMode) WantsLexical() bool {
	switch m {
	case ModeBM25, ModeHybrid, ModeCrossmodal, ModeHybridGraph:
		return true
	}
	return false
}

// WantsGraph reports whether the mode consults the entity graph.
func (m SearchMode) WantsGraph() bool {
	return m == ModeGraph || m == ModeHybridGraph
}
