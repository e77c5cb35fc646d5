package domain

// Issue is a typed, stable code attached to a response when a degradation
// occurred. Issues never carry stack traces or provider internals; they are
// the contract clients key automation off.
type Issue string

const (
	IssueNoHits                Issue = "NO_HITS"
	IssueLatencyBudgetExceeded Issue = "LATENCY_BUDGET_EXCEEDED"
	IssueEmbeddingDown         Issue = "EMBEDDING_DOWN"
	IssueRerankTimeout         Issue = "RERANK_TIMEOUT"
	IssueRerankDown            Issue = "RERANK_DOWN"
	IssueRerankSkippedBudget   Issue = "RERANK_SKIPPED_BUDGET"
	IssueBM25Timeout           Issue = "BM25_TIMEOUT"
	IssueVectorTimeout         Issue = "VECTOR_TIMEOUT"
	IssueGraphDown             Issue = "GRAPH_DOWN"
	IssueGraphTimeout          Issue = "GRAPH_TIMEOUT"
	IssueGraphQueryInvalid     Issue = "GRAPH_QUERY_INVALID"
	IssueNL2QueryFailed        Issue = "NL2QUERY_FAILED"
	IssueModalityBlocked       Issue = "MODALITY_BLOCKED"
	IssueContainerUnavailable  Issue = "CONTAINER_UNAVAILABLE"
	IssueContainerNotFound     Issue = "CONTAINER_NOT_FOUND"
	IssuePolicyInvalid         Issue = "POLICY_INVALID"
	IssueOverloaded            Issue = "OVERLOADED"
	IssueLeaseLost             Issue = "LEASE_LOST"
	IssuePayloadTooLarge       Issue = "PAYLOAD_TOO_LARGE"
)

// IssueSet collects issue codes while preserving first-seen order and
// suppressing duplicates. The zero value is ready to use.
type IssueSet struct {
	seen  map[Issue]struct{}
	order []Issue
}

// Add records an issue unless it is already present.
func (s *IssueSet) Add(issues ...Issue) {
	for _, issue := range issues {
		if s.seen == nil {
			s.seen = make(map[Issue]struct{})
		}
		if _, ok := s.seen[issue]; ok {
			continue
		}
		s.seen[issue] = struct{}{}
		s.order = append(s.order, issue)
	}
}

// Has reports whether the issue was recorded.
func (s *IssueSet) Has(issue Issue) bool {
	_, ok := s.seen[issue]
	return ok
}

// Slice returns the recorded issues in first-seen order. Never nil, so it
// serializes as [] rather than null.
func (s *IssueSet) Slice() []Issue {
	out := make([]Issue, len(s.order))
	copy(out, s.order)
	return out
}
