package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/codedojo/internal/model"
	_ "modernc.org/sqlite"
)

// sqliteSessionSchema はSQLiteセッションストアのスキーマ。
// 時刻はUnixミリ秒で保持する。
const sqliteSessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at);
`

// SQLiteSessionRepo はSQLiteを使用したセッションリポジトリ。
// ユーザーはPostgreSQLに置いたまま、セッションだけをローカルファイルに保持したい場合に使う。
type SQLiteSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteSessionRepo はSQLiteデータベースを開き、スキーマを作成してリポジトリを返す。
// pathに":memory:"を指定するとインメモリDBになる。
func OpenSQLiteSessionRepo(ctx context.Context, path string) (*SQLiteSessionRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLiteは書き込みが単一接続に直列化されるため、接続を1本に絞る
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite session schema: %w", err)
	}

	return &SQLiteSessionRepo{db: db, now: time.Now}, nil
}

// Close はデータベース接続を閉じる。
func (r *SQLiteSessionRepo) Close() error {
	return r.db.Close()
}

// Create はセッションを作成する。
func (r *SQLiteSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, last_seen_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID,
		session.CreatedAt.UnixMilli(), session.LastSeenAt.UnixMilli(), session.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *SQLiteSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var createdAt, lastSeenAt, expiresAt int64
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, last_seen_at, expires_at
		 FROM sessions
		 WHERE id = ? AND expires_at > ?`,
		id, r.now().UnixMilli(),
	).Scan(&session.ID, &session.UserID, &createdAt, &lastSeenAt, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.CreatedAt = time.UnixMilli(createdAt)
	session.LastSeenAt = time.UnixMilli(lastSeenAt)
	session.ExpiresAt = time.UnixMilli(expiresAt)
	return session, nil
}

// Touch はセッションの最終アクセス時刻を更新する。
func (r *SQLiteSessionRepo) Touch(ctx context.Context, id string, lastSeenAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = ? WHERE id = ?`,
		lastSeenAt.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *SQLiteSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *SQLiteSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (r *SQLiteSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*SQLiteSessionRepo)(nil)
