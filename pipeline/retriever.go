package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/chattyhq/chat-engine/embeddings"
)

// RetrievalClient returns ranked (passage, score) pairs for a question,
// best match first. An empty result is a legitimate outcome; an error means
// the backend itself is unavailable.
type RetrievalClient interface {
	Retrieve(ctx context.Context, question string, topK int) ([]ScoredPassage, error)
}

// PostgresRetriever retrieves passages from a pgvector-indexed chunks
// table, embedding the question first.
type PostgresRetriever struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
	retries  int
}

func NewPostgresRetriever(pool *pgxpool.Pool, embedder embeddings.Embedder, retries int) *PostgresRetriever {
	if retries < 0 {
		retries = 0
	}
	return &PostgresRetriever{pool: pool, embedder: embedder, retries: retries}
}

func (r *PostgresRetriever) Retrieve(ctx context.Context, question string, topK int) ([]ScoredPassage, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if r.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}
	if topK <= 0 {
		topK = 3
	}

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	// Transient backend failures are retried; context cancellation stops
	// the retry loop immediately.
	var results []ScoredPassage
	err = retry.Do(
		func() error {
			var queryErr error
			results, queryErr = r.query(ctx, vectors[0], topK)
			return queryErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.retries)+1),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *PostgresRetriever) query(ctx context.Context, embedding []float32, topK int) ([]ScoredPassage, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT
            id, doc, sheet, row_index, origin_cols, chunk_id, text, followups,
            (embedding <-> $1::vector) AS distance
        FROM chunks
        ORDER BY embedding <-> $1::vector
        LIMIT $2
    `, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredPassage, 0, topK)
	for rows.Next() {
		var (
			id                int64
			doc, sheet        *string
			rowIndex, chunkID *int
			originCols, text  *string
			followups         *string
			distance          float64
		)
		if err := rows.Scan(&id, &doc, &sheet, &rowIndex, &originCols, &chunkID, &text, &followups, &distance); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}

		passage, ok := mapPassage(id, doc, sheet, rowIndex, originCols, chunkID, text, followups)
		if !ok {
			continue
		}

		if distance < 0 {
			distance = 0
		}
		results = append(results, ScoredPassage{
			Passage: passage,
			Score:   1 / (1 + distance),
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

// mapPassage is the single point where untyped upstream rows become typed
// passages. Rows without text are rejected; other missing fields get zero
// values rather than poisoning the pipeline.
func mapPassage(id int64, doc, sheet *string, rowIndex *int, originCols *string, chunkID *int, text, followups *string) (RetrievedPassage, bool) {
	if text == nil || strings.TrimSpace(*text) == "" {
		return RetrievedPassage{}, false
	}

	passage := RetrievedPassage{
		ID:        strconv.FormatInt(id, 10),
		Text:      *text,
		Followups: DecodeFollowupColumn(followups),
	}
	if doc != nil {
		passage.Doc = *doc
	}
	if sheet != nil {
		passage.Sheet = *sheet
	}
	if rowIndex != nil {
		passage.Row = *rowIndex
	}
	if chunkID != nil {
		passage.ChunkID = *chunkID
	}
	if originCols != nil {
		passage.OriginColumns = *originCols
	}
	return passage, true
}

var _ RetrievalClient = (*PostgresRetriever)(nil)
