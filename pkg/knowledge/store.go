package knowledge

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/zeromicro/go-zero/core/logx"
)

//go:embed migrations/*.sql
var migrations embed.FS

const nearestSQL = `
SELECT content
FROM knowledge_chunks
WHERE knowledge_base_id = $1
  AND 1 - (embedding <=> $2::vector) > $3
ORDER BY embedding <=> $2::vector
LIMIT $4`

// PgStore 基于 pgvector 的知识库存储
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Nearest(ctx context.Context, knowledgeBaseID string, vector []float32, k int, threshold float64) ([]string, error) {
	rows, err := s.pool.Query(ctx, nearestSQL, knowledgeBaseID, VectorLiteral(vector), threshold, k)
	if err != nil {
		return nil, fmt.Errorf("query nearest chunks: %w", err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan nearest chunks: %w", err)
	}
	return texts, nil
}

// Migrate 执行内置的 goose 迁移
func (s *PgStore) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logx.Infof("knowledge migration applied: %s (%s)", r.Source.Path, r.Duration)
	}
	return nil
}

func (s *PgStore) Close() {
	s.pool.Close()
}

// VectorLiteral 把向量格式化为 pgvector 的文本表示，如 [0.1,0.2]
func VectorLiteral(vector []float32) string {
	var sb strings.Builder
	sb.Grow(len(vector)*10 + 2)
	sb.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
