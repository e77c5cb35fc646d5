package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
)

// ContainerRepo implements repository.ContainerRepository.
type ContainerRepo struct {
	store *Store
}

const containerColumns = `id, parent_id, slug, theme, description, modalities,
	embedder, embedder_version, dims, budget_ms, policy, acl, state,
	doc_count, chunk_count, byte_count, last_ingest_at,
	graph_enabled, graph_schema, visibility, collaboration, created_by,
	created_at, updated_at`

func (r *ContainerRepo) Create(ctx context.Context, c *domain.Container) error {
	policy, err := json.Marshal(orEmpty(c.Policy))
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	acl, err := json.Marshal(orEmpty(c.ACL))
	if err != nil {
		return fmt.Errorf("marshal acl: %w", err)
	}
	var schema []byte
	if c.GraphSchema != nil {
		if schema, err = json.Marshal(c.GraphSchema); err != nil {
			return fmt.Errorf("marshal graph schema: %w", err)
		}
	}

	_, err = r.store.pool.Exec(ctx, `
		INSERT INTO containers (
			id, parent_id, slug, theme, description, modalities,
			embedder, embedder_version, dims, budget_ms, policy, acl, state,
			graph_enabled, graph_schema, visibility, collaboration, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		c.ID, c.ParentID, c.Slug, c.Theme, c.Description, modalityStrings(c.Modalities),
		c.Embedder, c.EmbedderVersion, c.Dims, c.BudgetMS, policy, acl, string(c.State),
		c.GraphEnabled, schema, c.Visibility, c.Collaboration, c.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("CONTAINER_EXISTS", "container slug already in use")
		}
		return fmt.Errorf("insert container: %w", err)
	}
	return nil
}

func (r *ContainerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Container, error) {
	row := r.store.pool.QueryRow(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id = $1`, id)
	return scanContainer(row)
}

func (r *ContainerRepo) GetByRef(ctx context.Context, ref string) (*domain.Container, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return r.GetByID(ctx, id)
	}
	row := r.store.pool.QueryRow(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE slug = $1`, ref)
	return scanContainer(row)
}

func (r *ContainerRepo) List(ctx context.Context, filter repository.ContainerFilter) ([]*domain.Container, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		where = append(where, "state = ANY("+arg(states)+")")
	}
	if filter.Search != "" {
		p := arg("%" + strings.ToLower(filter.Search) + "%")
		where = append(where, "(lower(slug) LIKE "+p+" OR lower(theme) LIKE "+p+" OR lower(description) LIKE "+p+")")
	}
	if filter.ParentID != nil {
		where = append(where, "parent_id = "+arg(*filter.ParentID))
	}

	query := `SELECT ` + containerColumns + ` FROM containers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ContainerRepo) Update(ctx context.Context, c *domain.Container) error {
	policy, err := json.Marshal(orEmpty(c.Policy))
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	acl, err := json.Marshal(orEmpty(c.ACL))
	if err != nil {
		return fmt.Errorf("marshal acl: %w", err)
	}
	var schema []byte
	if c.GraphSchema != nil {
		if schema, err = json.Marshal(c.GraphSchema); err != nil {
			return fmt.Errorf("marshal graph schema: %w", err)
		}
	}

	tag, err := r.store.pool.Exec(ctx, `
		UPDATE containers SET
			theme = $2, description = $3, modalities = $4, budget_ms = $5,
			policy = $6, acl = $7, graph_enabled = $8, graph_schema = $9,
			visibility = $10, collaboration = $11, updated_at = now()
		WHERE id = $1`,
		c.ID, c.Theme, c.Description, modalityStrings(c.Modalities), c.BudgetMS,
		policy, acl, c.GraphEnabled, schema, c.Visibility, c.Collaboration,
	)
	if err != nil {
		return fmt.Errorf("update container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("CONTAINER_NOT_FOUND", "container does not exist")
	}
	return nil
}

func (r *ContainerRepo) UpdateState(ctx context.Context, id uuid.UUID, state domain.ContainerState) error {
	tag, err := r.store.pool.Exec(ctx,
		`UPDATE containers SET state = $2, updated_at = now() WHERE id = $1`,
		id, string(state))
	if err != nil {
		return fmt.Errorf("update container state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("CONTAINER_NOT_FOUND", "container does not exist")
	}
	return nil
}

func (r *ContainerRepo) UpdateEmbedder(ctx context.Context, id uuid.UUID, embedder, version string, dims int) error {
	tag, err := r.store.pool.Exec(ctx, `
		UPDATE containers SET embedder = $2, embedder_version = $3, dims = $4, updated_at = now()
		WHERE id = $1`, id, embedder, version, dims)
	if err != nil {
		return fmt.Errorf("update container embedder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("CONTAINER_NOT_FOUND", "container does not exist")
	}
	return nil
}

func (r *ContainerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.store.pool.Exec(ctx, `DELETE FROM containers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("CONTAINER_NOT_FOUND", "container does not exist")
	}
	return nil
}

func (r *ContainerRepo) BumpStats(ctx context.Context, id uuid.UUID, docs, chunks, bytes int64, lastIngest time.Time) error {
	_, err := r.store.pool.Exec(ctx, `
		UPDATE containers SET
			doc_count = doc_count + $2,
			chunk_count = chunk_count + $3,
			byte_count = byte_count + $4,
			last_ingest_at = GREATEST(coalesce(last_ingest_at, $5), $5),
			updated_at = now()
		WHERE id = $1`, id, docs, chunks, bytes, lastIngest)
	if err != nil {
		return fmt.Errorf("bump container stats: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContainer(row rowScanner) (*domain.Container, error) {
	var (
		c          domain.Container
		modalities []string
		policy     []byte
		acl        []byte
		schema     []byte
		state      string
	)
	err := row.Scan(
		&c.ID, &c.ParentID, &c.Slug, &c.Theme, &c.Description, &modalities,
		&c.Embedder, &c.EmbedderVersion, &c.Dims, &c.BudgetMS, &policy, &acl, &state,
		&c.Stats.Documents, &c.Stats.Chunks, &c.Stats.Bytes, &c.Stats.LastIngestAt,
		&c.GraphEnabled, &schema, &c.Visibility, &c.Collaboration, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("CONTAINER_NOT_FOUND", "container does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("scan container: %w", err)
	}
	c.State = domain.ContainerState(state)
	for _, m := range modalities {
		c.Modalities = append(c.Modalities, domain.Modality(m))
	}
	if len(policy) > 0 {
		_ = json.Unmarshal(policy, &c.Policy)
	}
	if len(acl) > 0 {
		_ = json.Unmarshal(acl, &c.ACL)
	}
	if len(schema) > 0 {
		var gs domain.GraphSchema
		if json.Unmarshal(schema, &gs) == nil {
			c.GraphSchema = &gs
		}
	}
	return &c, nil
}

func modalityStrings(in []domain.Modality) []string {
	out := make([]string, len(in))
	for i, m := range in {
		out[i] = string(m)
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
