package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"admin-approvals/domain"
)

const (
	timeFormat  = time.RFC3339Nano
	busyRetries = 5
)

var payloadJSON = sonic.Config{UseNumber: true}.Froze()

// Store is the SQLite-backed actor directory and change request store.
type Store struct {
	queries
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// migrations. Transactions take the write lock up front so concurrent
// approvals of one request serialize.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, queries: queries{q: db, now: utcNow}}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Atomic runs fn inside one transaction, retrying when SQLite reports the
// database as busy.
func (s *Store) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	var err error
	for attempt := 1; attempt <= busyRetries; attempt++ {
		err = s.atomicOnce(ctx, fn)
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return err
}

func (s *Store) atomicOnce(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{q: tx, now: s.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadParticipants fetches requesters and approvers with one query and
// attaches them to reqs.
func (s *Store) LoadParticipants(ctx context.Context, reqs []domain.ChangeRequest) ([]domain.RequestDetails, error) {
	out := make([]domain.RequestDetails, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}
	seen := make(map[string]struct{})
	var ids []any
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, r := range reqs {
		add(r.RequestedBy)
		if r.ApprovedBy != nil {
			add(*r.ApprovedBy)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx, "SELECT "+actorColumns+" FROM users WHERE id IN ("+placeholders+")", ids...)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()
	actors := make(map[string]domain.Actor, len(ids))
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		actors[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	for i, r := range reqs {
		out[i] = domain.RequestDetails{ChangeRequest: r}
		if a, ok := actors[r.RequestedBy]; ok {
			out[i].Requester = &a
		}
		if r.ApprovedBy != nil {
			if a, ok := actors[*r.ApprovedBy]; ok {
				out[i].Approver = &a
			}
		}
	}
	return out, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements domain.Tx over either the database or a transaction.
type queries struct {
	q   querier
	now func() time.Time
}

const actorColumns = "id, first_name, last_name, email, password_hash, is_admin, created_at, updated_at"

const requestColumns = "id, type, status, data, requested_by, approved_by, created_at, updated_at"

func (q *queries) CreateActor(ctx context.Context, attrs domain.NewActor) (domain.Actor, error) {
	email := domain.NormalizeEmail(attrs.Email)
	if email == "" {
		return domain.Actor{}, domain.NewValidationError("email", "The email field is required.")
	}
	hash, err := domain.HashPassword(attrs.Password)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("hash password: %w", err)
	}
	now := q.now()
	a := domain.Actor{
		ID:           uuid.NewString(),
		FirstName:    attrs.FirstName,
		LastName:     attrs.LastName,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      attrs.IsAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = q.q.ExecContext(ctx,
		"INSERT INTO users ("+actorColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, nullString(a.FirstName), nullString(a.LastName), a.Email, a.PasswordHash,
		boolInt(a.IsAdmin), now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Actor{}, domain.ErrDuplicateEmail
		}
		return domain.Actor{}, fmt.Errorf("insert user: %w", err)
	}
	return a, nil
}

func (q *queries) FindActorByID(ctx context.Context, id string) (domain.Actor, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+actorColumns+" FROM users WHERE id = ?", id)
	a, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Actor{}, domain.ErrNotFound
	}
	return a, err
}

func (q *queries) FindActorByEmail(ctx context.Context, email string) (*domain.Actor, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+actorColumns+" FROM users WHERE email = ?", domain.NormalizeEmail(email))
	a, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) UpdateActor(ctx context.Context, id string, upd domain.ActorUpdate) error {
	email := domain.NormalizeEmail(upd.Email)
	if email == "" {
		return domain.NewValidationError("email", "The email field is required.")
	}
	res, err := q.q.ExecContext(ctx,
		"UPDATE users SET first_name = ?, last_name = ?, email = ?, updated_at = ? WHERE id = ?",
		nullString(upd.FirstName), nullString(upd.LastName), email, q.now().Format(timeFormat), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEmail
		}
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res)
}

func (q *queries) DeleteActor(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res)
}

func (q *queries) ListAdmins(ctx context.Context, excluding string) ([]domain.Actor, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+actorColumns+" FROM users WHERE is_admin = 1 AND id <> ? ORDER BY rowid", excluding)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()
	admins := []domain.Actor{}
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

func (q *queries) InsertRequest(ctx context.Context, req domain.ChangeRequest) (domain.ChangeRequest, error) {
	if !req.Type.Valid() {
		return domain.ChangeRequest{}, domain.NewValidationError("type", "The selected type is invalid.")
	}
	if req.Data == nil {
		req.Data = domain.Payload{}
	}
	data, err := payloadJSON.Marshal(req.Data)
	if err != nil {
		return domain.ChangeRequest{}, domain.NewValidationError("data", "The data field must be an object.")
	}
	now := q.now()
	req.ID = uuid.NewString()
	req.Status = domain.StatusPending
	req.ApprovedBy = nil
	req.CreatedAt, req.UpdatedAt = now, now
	_, err = q.q.ExecContext(ctx,
		"INSERT INTO change_requests ("+requestColumns+") VALUES (?, ?, ?, ?, ?, NULL, ?, ?)",
		req.ID, string(req.Type), string(req.Status), string(data), req.RequestedBy,
		now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return domain.ChangeRequest{}, fmt.Errorf("insert request: %w", err)
	}
	return req, nil
}

func (q *queries) ListPending(ctx context.Context, excluding string) ([]domain.ChangeRequest, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM change_requests WHERE status = ? AND requested_by <> ? ORDER BY seq",
		string(domain.StatusPending), excluding)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	reqs := []domain.ChangeRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return reqs, nil
}

func (q *queries) GetRequest(ctx context.Context, id string) (domain.ChangeRequest, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM change_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChangeRequest{}, domain.ErrNotFound
	}
	return r, err
}

func (q *queries) MarkApproved(ctx context.Context, id, approvedBy string) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE change_requests SET status = ?, approved_by = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(domain.StatusApproved), approvedBy, q.now().Format(timeFormat), id, string(domain.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark approved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark approved: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := q.GetRequest(ctx, id); err != nil {
		return err
	}
	return domain.ErrAlreadyApproved
}

func (q *queries) DeleteRequest(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM change_requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return requireAffected(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActor(row scanner) (domain.Actor, error) {
	var (
		a                domain.Actor
		first, last      sql.NullString
		created, updated string
	)
	if err := row.Scan(&a.ID, &first, &last, &a.Email, &a.PasswordHash, &a.IsAdmin, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Actor{}, err
		}
		return domain.Actor{}, fmt.Errorf("scan user: %w", err)
	}
	a.FirstName = stringPtr(first)
	a.LastName = stringPtr(last)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

func scanRequest(row scanner) (domain.ChangeRequest, error) {
	var (
		r                domain.ChangeRequest
		typ, status      string
		data             string
		approvedBy       sql.NullString
		created, updated string
	)
	if err := row.Scan(&r.ID, &typ, &status, &data, &r.RequestedBy, &approvedBy, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ChangeRequest{}, err
		}
		return domain.ChangeRequest{}, fmt.Errorf("scan request: %w", err)
	}
	r.Type = domain.RequestType(typ)
	r.Status = domain.RequestStatus(status)
	r.Data = domain.Payload{}
	if err := payloadJSON.UnmarshalFromString(data, &r.Data); err != nil {
		return domain.ChangeRequest{}, fmt.Errorf("decode request %s data: %w", r.ID, err)
	}
	r.ApprovedBy = stringPtr(approvedBy)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

var _ domain.Store = (*Store)(nil)
