package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/feedpoller/internal/model"
)

// PostgresSubscriberRepo はPostgreSQLを使用した購読者リポジトリ。
type PostgresSubscriberRepo struct {
	db *sql.DB
}

// NewPostgresSubscriberRepo はPostgresSubscriberRepoを生成する。
func NewPostgresSubscriberRepo(db *sql.DB) *PostgresSubscriberRepo {
	return &PostgresSubscriberRepo{db: db}
}

// Create は購読者を作成する。同名が存在する場合はmodel.ErrSubscriberExistsを返す。
func (r *PostgresSubscriberRepo) Create(ctx context.Context, username string) (*model.Subscriber, error) {
	sub := &model.Subscriber{Username: username}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO subscribers (username) VALUES ($1)
		 ON CONFLICT (username) DO NOTHING
		 RETURNING id, created_at`,
		username,
	).Scan(&sub.ID, &sub.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSubscriberExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert subscriber: %w", err)
	}
	return sub, nil
}

// FindByUsername はユーザー名で購読者を検索する。
func (r *PostgresSubscriberRepo) FindByUsername(ctx context.Context, username string) (*model.Subscriber, error) {
	sub := &model.Subscriber{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM subscribers WHERE username = $1`,
		username,
	).Scan(&sub.ID, &sub.Username, &sub.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscriber by username: %w", err)
	}
	return sub, nil
}

// compile-time interface check
var _ SubscriberRepository = (*PostgresSubscriberRepo)(nil)
