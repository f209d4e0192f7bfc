package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/storerating/internal/model"
)

// PostgresRatingRepo はPostgreSQLを使用した評価リポジトリ。
type PostgresRatingRepo struct {
	db *sql.DB
}

// NewPostgresRatingRepo はPostgresRatingRepoを生成する。
func NewPostgresRatingRepo(db *sql.DB) *PostgresRatingRepo {
	return &PostgresRatingRepo{db: db}
}

// Create は評価をreviewsテーブルに追加する。
func (r *PostgresRatingRepo) Create(ctx context.Context, rating *model.Rating) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reviews (id, store_id, user_id, rating, review, sentiment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rating.ID, rating.StoreID, rating.UserID, rating.Value,
		rating.ReviewText, rating.Sentiment, rating.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rating: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RatingRepository = (*PostgresRatingRepo)(nil)
