// Package graphrag turns chunks into a container-scoped entity graph and
// retrieves from it: extraction of entities and relations, safety validation
// of translated queries, and the graph stage of the search pipeline.
package graphrag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

// Only read clauses may reach the graph store. Mutations, schema commands,
// and procedure namespaces that can escape the container scope are rejected
// outright.
var disallowed = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcreate\b`),
	regexp.MustCompile(`(?i)\bmerge\b`),
	regexp.MustCompile(`(?i)\bdelete\b`),
	regexp.MustCompile(`(?i)\bremove\b`),
	regexp.MustCompile(`(?i)\bdrop\b`),
	regexp.MustCompile(`(?i)\bset\s`),
	regexp.MustCompile(`(?i)\bcall\s+db\.`),
	regexp.MustCompile(`(?i)apoc\.`),
	regexp.MustCompile(`(?i)\bload\s+csv\b`),
	regexp.MustCompile(`(?i)\bperiodic\b`),
	regexp.MustCompile(`(?i)\bindex\b`),
	regexp.MustCompile(`(?i)\bconstraint\b`),
}

var (
	hopBoundRe  = regexp.MustCompile(`\*\s*(\d+)(?:\.\.(\d+))?`)
	nodeLabelRe = regexp.MustCompile("\\(\\s*\\w*\\s*:`?([A-Za-z0-9_]+)`?")
	relTypeRe   = regexp.MustCompile("-\\s*\\[\\s*\\w*\\s*:`?([A-Za-z0-9_]+)`?")
)

// baseLabel and baseRelType are the physical names every container graph
// uses; schema labels and edge types live as properties on them but may also
// appear in translated queries.
const (
	baseLabel   = "Entity"
	baseRelType = "RELATES"
)

// ValidateQuery statically checks a translated read query and returns it with
// a LIMIT appended when missing. Everything that fails closes with
// GRAPH_QUERY_INVALID; the caller falls back to the template query.
func ValidateQuery(query string, schema *domain.GraphSchema, maxHops, limit int) (string, error) {
	query = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if query == "" {
		return "", invalid("empty query")
	}

	for _, re := range disallowed {
		if loc := re.FindString(query); loc != "" {
			return "", invalid(fmt.Sprintf("disallowed clause %q", strings.TrimSpace(loc)))
		}
	}

	if !strings.Contains(query, "$container_id") {
		return "", invalid("query must scope on $container_id")
	}

	for _, m := range hopBoundRe.FindAllStringSubmatch(query, -1) {
		bound := m[1]
		if m[2] != "" {
			bound = m[2]
		}
		n, err := strconv.Atoi(bound)
		if err != nil || n > maxHops {
			return "", invalid(fmt.Sprintf("hop bound %s exceeds maximum %d", bound, maxHops))
		}
	}

	var nodeLabels, edgeTypes []string
	if schema != nil {
		nodeLabels, edgeTypes = schema.NodeLabels, schema.EdgeTypes
	}
	labels := allowedSet(nodeLabels, baseLabel)
	for _, m := range nodeLabelRe.FindAllStringSubmatch(query, -1) {
		if _, ok := labels[m[1]]; !ok {
			return "", invalid(fmt.Sprintf("unknown node label %q", m[1]))
		}
	}
	rels := allowedSet(edgeTypes, baseRelType)
	for _, m := range relTypeRe.FindAllStringSubmatch(query, -1) {
		if _, ok := rels[m[1]]; !ok {
			return "", invalid(fmt.Sprintf("unknown relationship type %q", m[1]))
		}
	}

	if !strings.Contains(strings.ToLower(query), "limit") {
		query = fmt.Sprintf("%s\nLIMIT %d", query, limit)
	}
	return query, nil
}

func invalid(reason string) error {
	return apperr.Validation(string(domain.IssueGraphQueryInvalid), "unsafe graph query: "+reason)
}

func allowedSet(names []string, base string) map[string]struct{} {
	set := map[string]struct{}{base: {}}
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
