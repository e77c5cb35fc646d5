package graphrag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

var testSchema = &domain.GraphSchema{
	NodeLabels: []string{"Concept", "Library"},
	EdgeTypes:  []string{"USES", "IMPLEMENTS"},
}

func TestValidateQuery_AcceptsScopedReadQuery(t *testing.T) {
	q := `MATCH (n:Concept {container_id: $container_id})-[r:USES]->(m:Library {container_id: $container_id})
RETURN n, r, m LIMIT 10`
	got, err := ValidateQuery(q, testSchema, 3, 20)
	require.NoError(t, err)
	assert.Equal(t, q, got)
}

func TestValidateQuery_AppendsMissingLimit(t *testing.T) {
	q := `MATCH (n:Entity {container_id: $container_id}) RETURN n;`
	got, err := ValidateQuery(q, testSchema, 3, 20)
	require.NoError(t, err)
	assert.Contains(t, got, "LIMIT 20")
	assert.NotContains(t, got, ";")
}

func TestValidateQuery_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		query string
	}{
		{"empty", "   "},
		{"create", "CREATE (n:Entity {container_id: $container_id}) RETURN n LIMIT 1"},
		{"merge", "MERGE (n:Entity {container_id: $container_id}) RETURN n LIMIT 1"},
		{"delete", "MATCH (n:Entity {container_id: $container_id}) DELETE n RETURN 1 LIMIT 1"},
		{"set clause", "MATCH (n:Entity {container_id: $container_id}) SET n.x = 1 RETURN n LIMIT 1"},
		{"apoc", "MATCH (n:Entity {container_id: $container_id}) RETURN apoc.convert.toJson(n) LIMIT 1"},
		{"call db", "CALL db.labels() YIELD label RETURN label LIMIT 1"},
		{"load csv", "LOAD CSV FROM 'file:///x' AS row RETURN row LIMIT 1"},
		{"missing container scope", "MATCH (n:Entity) RETURN n LIMIT 1"},
		{"hop bound exceeded", "MATCH (n:Entity {container_id: $container_id})-[:RELATES*1..9]-(m) RETURN m LIMIT 1"},
		{"unknown label", "MATCH (n:Secret {container_id: $container_id}) RETURN n LIMIT 1"},
		{"unknown relationship", "MATCH (n:Entity {container_id: $container_id})-[:EXFILTRATES]-(m) RETURN m LIMIT 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateQuery(tc.query, testSchema, 3, 20)
			require.Error(t, err)
			assert.Equal(t, string(domain.IssueGraphQueryInvalid), apperr.CodeOf(err))
		})
	}
}

func TestValidateQuery_NilSchemaAllowsBaseOnly(t *testing.T) {
	_, err := ValidateQuery(
		"MATCH (n:Entity {container_id: $container_id}) RETURN n LIMIT 5", nil, 3, 20)
	assert.NoError(t, err)

	_, err = ValidateQuery(
		"MATCH (n:Concept {container_id: $container_id}) RETURN n LIMIT 5", nil, 3, 20)
	assert.Error(t, err)
}

func TestValidateQuery_HopBoundWithinLimit(t *testing.T) {
	_, err := ValidateQuery(
		"MATCH (n:Entity {container_id: $container_id})-[:RELATES*1..3]-(m:Entity {container_id: $container_id}) RETURN m LIMIT 5",
		testSchema, 3, 20)
	assert.NoError(t, err)
}
