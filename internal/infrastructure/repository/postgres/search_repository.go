package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
)

// SearchRepository runs the lexical and vector relevance channels over the
// archive. Lexical relevance is ts_rank over the stemmed tsvector, with
// trigram similarity as the typo-tolerant fallback; vector similarity is
// cosine over the pgvector index.
type SearchRepository struct {
	db    *sql.DB
	model string
}

func NewSearchRepository(db *sql.DB, embedModel string) *SearchRepository {
	return &SearchRepository{db: db, model: embedModel}
}

func (r *SearchRepository) SearchLexical(ctx context.Context, query string, limit int) ([]domain.Fragment, error) {
	tsQuery := toPrefixTsQuery(query)
	if tsQuery == "" {
		return []domain.Fragment{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT m.id, m.conversation_id, m.seq, m.role, m.content, m.version, m.created_at, m.updated_at,
	GREATEST(ts_rank(m.content_tsv, to_tsquery('english', $1)), similarity(m.content, $2)) AS score,
	(e.message_id IS NOT NULL) AS has_embedding
FROM messages m
LEFT JOIN embeddings e ON e.message_id = m.id AND e.model = $3
WHERE m.content_tsv @@ to_tsquery('english', $1) OR m.content % $2
ORDER BY score DESC, m.created_at DESC
LIMIT $4
`, tsQuery, query, r.model, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "lexical search", err)
	}
	defer rows.Close()

	return scanFragments(rows)
}

func (r *SearchRepository) SearchVector(ctx context.Context, vector []float32, model string, limit int) ([]domain.Fragment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT m.id, m.conversation_id, m.seq, m.role, m.content, m.version, m.created_at, m.updated_at,
	1 - (e.vector <=> $1) AS score,
	TRUE AS has_embedding
FROM embeddings e
JOIN messages m ON m.id = e.message_id
WHERE e.model = $2
ORDER BY e.vector <=> $1, m.created_at DESC
LIMIT $3
`, pgvector.NewVector(vector), model, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "vector search", err)
	}
	defer rows.Close()

	return scanFragments(rows)
}

func scanFragments(rows *sql.Rows) ([]domain.Fragment, error) {
	out := make([]domain.Fragment, 0)
	for rows.Next() {
		var frag domain.Fragment
		var role string
		err := rows.Scan(
			&frag.Message.ID,
			&frag.Message.ConversationID,
			&frag.Message.Seq,
			&role,
			&frag.Message.Content,
			&frag.Message.Version,
			&frag.Message.CreatedAt,
			&frag.Message.UpdatedAt,
			&frag.Score,
			&frag.HasEmbedding,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		frag.Message.Role = domain.Role(role)
		out = append(out, frag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return out, nil
}

// toPrefixTsQuery turns free text into an OR'd prefix tsquery so expanded
// synonym terms widen recall instead of all being required.
func toPrefixTsQuery(query string) string {
	words := strings.Fields(strings.TrimSpace(query))
	parts := make([]string, 0, len(words))
	for _, word := range words {
		escaped := escapeTsQueryWord(word)
		if escaped != "" {
			parts = append(parts, escaped+":*")
		}
	}
	return strings.Join(parts, " | ")
}

// escapeTsQueryWord removes characters that have special meaning in tsquery
// syntax.
func escapeTsQueryWord(word string) string {
	var b strings.Builder
	for _, r := range word {
		switch r {
		case '&', '|', '!', '(', ')', ':', '\'', '\\', '*', '<', '>':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
