package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/me/owl/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Each pooled connection to ":memory:" would be its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store", "driver", "sqlite"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrateSQLite(ctx, s.db)
}

// --- Users ---

func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, subject, username string) (*model.User, error) {
	s.logger.Debug("sql", "op", "upsert", "table", "users", "subject", subject)

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, subject, username, role, created_at, last_login_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject) DO UPDATE SET username=excluded.username, last_login_at=excluded.last_login_at`,
		"usr_"+uuid.New().String(), subject, username, string(model.RoleUser), now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.getUserBy(ctx, "subject", subject)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.logger.Debug("sql", "op", "select", "table", "users", "id", id)
	return s.getUserBy(ctx, "id", id)
}

func (s *SQLiteStore) getUserBy(ctx context.Context, column, value string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject, username, role, created_at, last_login_at FROM users WHERE `+column+` = ?`, value)

	var u model.User
	var role, createdAt, lastLogin string
	err := row.Scan(&u.ID, &u.Subject, &u.Username, &role, &createdAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	u.LastLoginAt, _ = time.Parse(timeLayout, lastLogin)
	return &u, nil
}

// --- Submissions ---

const submissionColumns = `id, user_id, status, model_type, model_id, display_name, params, engine_config,
	ip_hash, priority_score, error_msg, run_key, created_at, started_at, finished_at`

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	s.logger.Debug("sql", "op", "insert", "table", "submissions", "id", sub.ID)

	paramsJSON, err := json.Marshal(sub.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	engineJSON, err := json.Marshal(sub.EngineConfig)
	if err != nil {
		return fmt.Errorf("marshal engine config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, string(sub.Status), string(sub.ModelType), sub.ModelID, sub.DisplayName,
		string(paramsJSON), string(engineJSON), sub.IPHash, sub.PriorityScore, sub.ErrorMsg, sub.RunKey,
		formatTime(sub.CreatedAt), formatTimePtr(sub.StartedAt), formatTimePtr(sub.FinishedAt),
	)
	return err
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	s.logger.Debug("sql", "op", "select", "table", "submissions", "id", id)
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	return scanSubmission(row)
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, opts model.ListOptions) ([]*model.Submission, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "submissions", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var countArgs []any

	if opts.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		countArgs = append(countArgs, opts.Status)
	}
	if opts.UserID != "" {
		whereClauses = append(whereClauses, "user_id = ?")
		countArgs = append(countArgs, opts.UserID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + submissionColumns + ` FROM submissions` + whereSQL +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	subs, err := scanSubmissions(rows)
	return subs, total, err
}

func (s *SQLiteStore) ListActiveSubmissions(ctx context.Context) ([]*model.Submission, error) {
	s.logger.Debug("sql", "op", "list_active", "table", "submissions")
	active := statusStrings(model.ActiveStatuses)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status IN (`+placeholders(len(active))+`)
		 ORDER BY created_at, id`, toArgs(active)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

func (s *SQLiteStore) ListRecentCompleted(ctx context.Context, limit int) ([]*model.Submission, error) {
	s.logger.Debug("sql", "op", "list_recent", "table", "submissions", "limit", limit)
	terminal := statusStrings(model.TerminalStatuses)
	args := append(toArgs(terminal), limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status IN (`+placeholders(len(terminal))+`)
		 ORDER BY COALESCE(finished_at, created_at) DESC, id LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

func (s *SQLiteStore) UpdateSubmission(ctx context.Context, sub *model.Submission) error {
	s.logger.Debug("sql", "op", "update", "table", "submissions", "id", sub.ID)

	result, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status=?, priority_score=?, error_msg=?, run_key=?, started_at=?, finished_at=? WHERE id=?`,
		string(sub.Status), sub.PriorityScore, sub.ErrorMsg, sub.RunKey,
		formatTimePtr(sub.StartedAt), formatTimePtr(sub.FinishedAt), sub.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("submission %s not found", sub.ID)
	}
	return nil
}

func (s *SQLiteStore) TransitionSubmission(ctx context.Context, id string, from, to model.SubmissionStatus, finishedAt *time.Time) error {
	s.logger.Debug("sql", "op", "transition", "table", "submissions", "id", id, "from", from, "to", to)

	result, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status=?, finished_at=COALESCE(?, finished_at) WHERE id=? AND status=?`,
		string(to), formatTimePtr(finishedAt), id, string(from),
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *SQLiteStore) FindBlockingSubmission(ctx context.Context, modelID string) (*model.Submission, error) {
	s.logger.Debug("sql", "op", "find_blocking", "table", "submissions", "model_id", modelID)
	free := statusStrings(model.ResubmittableStatuses)
	args := append([]any{modelID}, toArgs(free)...)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE lower(model_id) = lower(?) AND status NOT IN (`+placeholders(len(free))+`)
		 ORDER BY created_at, id LIMIT 1`, args...)
	return scanSubmission(row)
}

func (s *SQLiteStore) CountUserSubmissionsSince(ctx context.Context, userID string, since time.Time) (int, time.Time, error) {
	s.logger.Debug("sql", "op", "count", "table", "submissions", "user_id", userID)

	var count int
	var oldest *string
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM submissions WHERE user_id = ? AND created_at >= ?`,
		userID, formatTime(since),
	).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, err
	}
	if t := parseTimePtr(oldest); t != nil {
		return count, *t, nil
	}
	return count, time.Time{}, nil
}

func (s *SQLiteStore) CountIPSubmissionsSince(ctx context.Context, ipHash string, since time.Time) (int, error) {
	s.logger.Debug("sql", "op", "count", "table", "submissions", "ip_hash", ipHash)

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE ip_hash = ? AND created_at >= ?`,
		ipHash, formatTime(since),
	).Scan(&count)
	return count, err
}

// --- Leaderboard ---

func (s *SQLiteStore) FindLeaderboardEntry(ctx context.Context, modelID string) (*model.LeaderboardEntry, error) {
	s.logger.Debug("sql", "op", "select", "table", "leaderboard", "model_id", modelID)
	row := s.db.QueryRowContext(ctx,
		`SELECT model_id, display_name, elo, rank, sample_count, updated_at
		 FROM leaderboard WHERE lower(model_id) = lower(?) LIMIT 1`, modelID)

	e, err := scanLeaderboardEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) ListLeaderboard(ctx context.Context, opts model.ListOptions) ([]*model.LeaderboardEntry, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "leaderboard", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, display_name, elo, rank, sample_count, updated_at
		 FROM leaderboard ORDER BY rank, elo DESC, model_id LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*model.LeaderboardEntry
	for rows.Next() {
		e, err := scanLeaderboardEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (s *SQLiteStore) UpsertLeaderboardEntry(ctx context.Context, e *model.LeaderboardEntry) error {
	s.logger.Debug("sql", "op", "upsert", "table", "leaderboard", "model_id", e.ModelID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leaderboard (model_id, display_name, elo, rank, sample_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_id) DO UPDATE SET display_name=excluded.display_name, elo=excluded.elo,
		   rank=excluded.rank, sample_count=excluded.sample_count, updated_at=excluded.updated_at`,
		e.ModelID, e.DisplayName, e.ELO, e.Rank, e.SampleCount, formatTime(e.UpdatedAt),
	)
	return err
}

// --- scanning helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var sub model.Submission
	var status, modelType, paramsJSON, engineJSON, createdAt string
	var startedAt, finishedAt *string

	err := row.Scan(
		&sub.ID, &sub.UserID, &status, &modelType, &sub.ModelID, &sub.DisplayName,
		&paramsJSON, &engineJSON, &sub.IPHash, &sub.PriorityScore, &sub.ErrorMsg, &sub.RunKey,
		&createdAt, &startedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sub.Status = model.SubmissionStatus(status)
	sub.ModelType = model.ModelType(modelType)
	if err := json.Unmarshal([]byte(paramsJSON), &sub.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal([]byte(engineJSON), &sub.EngineConfig); err != nil {
		return nil, fmt.Errorf("unmarshal engine config: %w", err)
	}
	sub.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	sub.StartedAt = parseTimePtr(startedAt)
	sub.FinishedAt = parseTimePtr(finishedAt)
	return &sub, nil
}

func scanSubmissions(rows *sql.Rows) ([]*model.Submission, error) {
	var subs []*model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanLeaderboardEntry(row scanner) (*model.LeaderboardEntry, error) {
	var e model.LeaderboardEntry
	var updatedAt string
	if err := row.Scan(&e.ModelID, &e.DisplayName, &e.ELO, &e.Rank, &e.SampleCount, &updatedAt); err != nil {
		return nil, err
	}
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
