package domain

import "time"

// RerankPolicy controls the optional second-pass reordering of candidates.
type RerankPolicy struct {
	Enabled  bool
	Provider string
	Model    string
	TopKIn   int
	TopKOut  int
	Timeout  time.Duration
	CacheTTL time.Duration
}

// GraphPolicy controls graph-expansion behavior for a container.
type GraphPolicy struct {
	Enabled      bool
	MaxHops      int
	QueryTimeout time.Duration
	Schema       *GraphSchema
}

// Policy is the resolved, effective contract for one container, derived from
// its manifest plus global defaults. Both pipelines consume only this value,
// never the raw manifest.
type Policy struct {
	ContainerID     string
	Slug            string
	State           ContainerState
	Modalities      []Modality
	Budget          time.Duration
	SemanticDedup   float64
	FreshnessLambda float64
	SnippetMaxChars int
	Rerank          RerankPolicy
	Graph           GraphPolicy
	Embedder        string
	EmbedderVersion string
	Dims            int
	ThumbMaxEdge    int
	MaxSizeBytes    int64
	MaxPDFPages     int
	Readers         []string
	Owners          []string
}

// AllowsModality reports whether the resolved policy admits the modality.
func (p *Policy) AllowsModality(m Modality) bool {
	for _, allowed := range p.Modalities {
		if allowed == m {
			return true
		}
	}
	return false
}

// AllowsPrincipal applies the ACL. An empty ACL admits everyone.
func (p *Policy) AllowsPrincipal(principal string) bool {
	if len(p.Readers) == 0 && len(p.Owners) == 0 {
		return true
	}
	for _, r := range p.Readers {
		if r == principal {
			return true
		}
	}
	for _, o := range p.Owners {
		if o == principal {
			return true
		}
	}
	return false
}

// EffectiveBudget returns min(request budget, container budget, global
// budget), ignoring non-positive inputs.
func EffectiveBudget(request, container, global time.Duration) time.Duration {
	budget := global
	if container > 0 && container < budget {
		budget = container
	}
	if request > 0 && request < budget {
		budget = request
	}
	return budget
}
