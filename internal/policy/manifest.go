// Package policy turns container manifests into the resolved Policy values
// both pipelines consume. Manifests live in the registry; the optional
// manifests directory seeds containers at startup and is watched so edits
// invalidate cached policies.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

// Manifest is the declarative per-container descriptor. YAML on disk and the
// create-container request body share this shape.
type Manifest struct {
	Slug        string   `yaml:"slug" json:"slug" validate:"required,max=64"`
	Theme       string   `yaml:"theme" json:"theme" validate:"required,max=200"`
	Description string   `yaml:"description" json:"description" validate:"max=2000"`
	Modalities  []string `yaml:"modalities" json:"modalities" validate:"required,min=1,dive,oneof=text pdf image"`

	Embedder struct {
		Name    string `yaml:"name" json:"name" validate:"required"`
		Version string `yaml:"version" json:"version"`
		Dims    int    `yaml:"dims" json:"dims" validate:"required,gt=0,lte=8192"`
	} `yaml:"embedder" json:"embedder"`

	BudgetMS int `yaml:"budget_ms" json:"budget_ms" validate:"gte=0,lte=60000"`

	Freshness struct {
		Lambda float64 `yaml:"lambda" json:"lambda" validate:"gte=0"`
	} `yaml:"freshness" json:"freshness"`

	Dedup struct {
		SemanticThreshold float64 `yaml:"semantic_threshold" json:"semantic_threshold" validate:"gte=0,lte=1"`
	} `yaml:"dedup" json:"dedup"`

	Snippet struct {
		MaxChars int `yaml:"max_chars" json:"max_chars" validate:"gte=0,lte=4000"`
	} `yaml:"snippet" json:"snippet"`

	Rerank struct {
		Enabled   bool   `yaml:"enabled" json:"enabled"`
		Provider  string `yaml:"provider" json:"provider"`
		Model     string `yaml:"model" json:"model"`
		TopKIn    int    `yaml:"top_k_in" json:"top_k_in" validate:"gte=0,lte=50"`
		TopKOut   int    `yaml:"top_k_out" json:"top_k_out" validate:"gte=0,lte=50"`
		TimeoutMS int    `yaml:"timeout_ms" json:"timeout_ms" validate:"gte=0"`
		CacheTTLS int    `yaml:"cache_ttl_s" json:"cache_ttl_s" validate:"gte=0"`
	} `yaml:"rerank" json:"rerank"`

	Graph struct {
		Enabled bool                `yaml:"enabled" json:"enabled"`
		MaxHops int                 `yaml:"max_hops" json:"max_hops" validate:"gte=0,lte=5"`
		Schema  *domain.GraphSchema `yaml:"schema" json:"schema"`
	} `yaml:"graph" json:"graph"`

	Limits struct {
		MaxSizeMB    int `yaml:"max_size_mb" json:"max_size_mb" validate:"gte=0"`
		MaxPDFPages  int `yaml:"max_pdf_pages" json:"max_pdf_pages" validate:"gte=0"`
		ThumbMaxEdge int `yaml:"thumb_max_edge" json:"thumb_max_edge" validate:"gte=0"`
	} `yaml:"limits" json:"limits"`

	ACL struct {
		Readers []string `yaml:"readers" json:"readers"`
		Owners  []string `yaml:"owners" json:"owners"`
	} `yaml:"acl" json:"acl"`
}

var validate = validator.New()

// Validate checks the manifest against the schema. Violations surface as
// POLICY_INVALID so they map to a 400 at the API edge.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return apperr.Validation(string(domain.IssuePolicyInvalid), fmt.Sprintf("manifest invalid: %v", err))
	}
	if strings.ContainsAny(m.Slug, " /\\") {
		return apperr.Validation(string(domain.IssuePolicyInvalid), "slug must not contain spaces or slashes")
	}
	if m.Graph.Enabled && m.Graph.Schema == nil {
		return apperr.Validation(string(domain.IssuePolicyInvalid), "graph-enabled containers need a schema")
	}
	return nil
}

// Parse decodes and validates one YAML manifest.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Validation(string(domain.IssuePolicyInvalid), fmt.Sprintf("manifest parse: %v", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadDir parses every *.yaml/*.yml manifest in dir, sorted by filename. A
// missing directory is not an error; a malformed manifest is.
func LoadDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifests dir: %w", err)
	}

	var out []*Manifest
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", e.Name(), err)
		}
		m, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", e.Name(), err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ToContainer materializes a new container from the manifest. Knobs that
// resolve against global defaults stay in the policy map so later default
// changes apply without a migration.
func (m *Manifest) ToContainer() *domain.Container {
	modalities := make([]domain.Modality, len(m.Modalities))
	for i, s := range m.Modalities {
		modalities[i] = domain.Modality(s)
	}
	c := &domain.Container{
		Slug:            m.Slug,
		Theme:           m.Theme,
		Description:     m.Description,
		Modalities:      modalities,
		Embedder:        m.Embedder.Name,
		EmbedderVersion: m.Embedder.Version,
		Dims:            m.Embedder.Dims,
		BudgetMS:        m.BudgetMS,
		State:           domain.ContainerActive,
		GraphEnabled:    m.Graph.Enabled,
		GraphSchema:     m.Graph.Schema,
		Policy: map[string]any{
			"freshness_lambda":   m.Freshness.Lambda,
			"semantic_threshold": m.Dedup.SemanticThreshold,
			"snippet_max_chars":  m.Snippet.MaxChars,
			"rerank": map[string]any{
				"enabled":     m.Rerank.Enabled,
				"provider":    m.Rerank.Provider,
				"model":       m.Rerank.Model,
				"top_k_in":    m.Rerank.TopKIn,
				"top_k_out":   m.Rerank.TopKOut,
				"timeout_ms":  m.Rerank.TimeoutMS,
				"cache_ttl_s": m.Rerank.CacheTTLS,
			},
			"graph_max_hops": m.Graph.MaxHops,
			"limits": map[string]any{
				"max_size_mb":    m.Limits.MaxSizeMB,
				"max_pdf_pages":  m.Limits.MaxPDFPages,
				"thumb_max_edge": m.Limits.ThumbMaxEdge,
			},
		},
		ACL: map[string]any{
			"readers": m.ACL.Readers,
			"owners":  m.ACL.Owners,
		},
	}
	return c
}
