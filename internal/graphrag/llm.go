package graphrag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

const extractSystemPrompt = `You read short text chunks and emit ONLY structured JSON describing entities and relations.
Entity ids are lowercase_snake_case and stable within the request.
Relation types must be one of: WORKS_ON, OWNS, MANAGES, AUTHORED_BY, MENTIONS, USES, DEPENDS_ON, HAS_DECISION, AFFECTS, PART_OF, IMPLEMENTS, RELATED_TO.
If no entities or relations are evident, return {"entities": [], "relations": []}.
Output JSON only.`

// maxExtractChars bounds the prompt; anything longer is truncated.
const maxExtractChars = 4000

type ModelExtractorOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	BreakerTrip uint32
	BreakerCool time.Duration
}

// ModelExtractor calls a chat-completions endpoint to extract entities and
// relations from a chunk.
type ModelExtractor struct {
	opts    ModelExtractorOptions
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewModelExtractor(opts ModelExtractorOptions, logger *zap.Logger) *ModelExtractor {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	trips := opts.BreakerTrip
	if trips == 0 {
		trips = 5
	}
	cool := opts.BreakerCool
	if cool <= 0 {
		cool = 30 * time.Second
	}
	return &ModelExtractor{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "graph-extract",
			Timeout: cool,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trips
			},
		}),
		logger: logger.Named("graph-extract"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type extractPayload struct {
	Entities []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"entities"`
	Relations []struct {
		SourceID string `json:"source_id"`
		TargetID string `json:"target_id"`
		Type     string `json:"type"`
	} `json:"relations"`
}

func (m *ModelExtractor) Extract(ctx context.Context, containerID uuid.UUID, chunk *domain.Chunk) ([]Entity, []Relation, error) {
	text := chunk.Text
	if len(text) > maxExtractChars {
		text = text[:maxExtractChars]
	}
	if text == "" {
		return nil, nil, nil
	}

	user := fmt.Sprintf("Container: %s\nChunk [%s]:\n%s\n\nExtract entities and relations clearly supported by this chunk.",
		containerID, chunk.ID, text)

	res, err := m.breaker.Execute(func() (any, error) {
		return m.call(ctx, user)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, nil, apperr.Unavailable(string(domain.IssueGraphDown), "extraction circuit open", err)
		}
		return nil, nil, apperr.Unavailable(string(domain.IssueGraphDown), "entity extraction failed", err)
	}

	payload := res.(*extractPayload)
	entities := make([]Entity, 0, len(payload.Entities))
	for _, e := range payload.Entities {
		if e.ID == "" && e.Name == "" {
			continue
		}
		entities = append(entities, Entity{ID: e.ID, Name: e.Name, Type: e.Type, Summary: e.Description})
	}
	relations := make([]Relation, 0, len(payload.Relations))
	for _, r := range payload.Relations {
		if r.SourceID == "" || r.TargetID == "" {
			continue
		}
		relations = append(relations, Relation{SourceID: r.SourceID, TargetID: r.TargetID, Type: r.Type})
	}
	return entities, relations, nil
}

func (m *ModelExtractor) call(ctx context.Context, user string) (*extractPayload, error) {
	creq := chatRequest{
		Model: m.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: extractSystemPrompt},
			{Role: "user", Content: user},
		},
	}
	creq.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(creq)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.opts.APIKey)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("extraction model returned %d: %s", resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("extraction model returned no choices")
	}

	var payload extractPayload
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("extraction output is not valid JSON: %w", err)
	}
	return &payload, nil
}
