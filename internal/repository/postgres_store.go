package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBTX はクエリ実行を抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore はPostgreSQLのトランザクションでリポジトリ群を束ねるStore実装。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithTx はトランザクション内でfnを実行する。
// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, nil, fn)
}

// View は読み取り専用トランザクション内でfnを実行する。
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}, fn)
}

// Ping はデータベースへの疎通を確認する。
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) run(ctx context.Context, opts *sql.TxOptions, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// postgresTx は1つの*sql.Txを共有するリポジトリ群。
type postgresTx struct {
	q DBTX
}

func (t *postgresTx) Users() UserRepository                 { return NewPostgresUserRepo(t.q) }
func (t *postgresTx) Sessions() SessionRepository           { return NewPostgresSessionRepo(t.q) }
func (t *postgresTx) Profiles() ProfileRepository           { return NewPostgresProfileRepo(t.q) }
func (t *postgresTx) Meetings() MeetingRepository           { return NewPostgresMeetingRepo(t.q) }
func (t *postgresTx) Attendance() AttendanceRepository      { return NewPostgresAttendanceRepo(t.q) }
func (t *postgresTx) Submissions() SubmissionRepository     { return NewPostgresSubmissionRepo(t.q) }
func (t *postgresTx) Notifications() NotificationRepository { return NewPostgresNotificationRepo(t.q) }

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// wrapWriteError は一意制約違反をErrDuplicateに変換し、それ以外はメッセージ付きでラップする。
func wrapWriteError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", msg, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringPtr は*stringをsql.NullStringに変換する。
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullTimePtr は*time.Timeをsql.NullTimeに変換する。
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtrValue(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtrValue(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
