package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/me/owl/pkg/model"
)

// PoolConfig tunes the Postgres connection pool.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig returns the pool settings used in production.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		HealthCheckPeriod: 30 * time.Second,
	}
}

// PostgresStore implements Store using Postgres via pgxpool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to the database at connURL and verifies the
// connection.
func NewPostgresStore(ctx context.Context, connURL string, poolCfg PoolConfig, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "store", "driver", "postgres"),
	}, nil
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates all required tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, subject, username string) (*model.User, error) {
	s.logger.Debug("sql", "op", "upsert", "table", "users", "subject", subject)

	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, subject, username, role, created_at, last_login_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (subject) DO UPDATE SET username = EXCLUDED.username, last_login_at = EXCLUDED.last_login_at
		 RETURNING id, subject, username, role, created_at, last_login_at`,
		"usr_"+uuid.New().String(), subject, username, string(model.RoleUser), now,
	)
	return scanPgUser(row)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.logger.Debug("sql", "op", "select", "table", "users", "id", id)
	row := s.pool.QueryRow(ctx,
		`SELECT id, subject, username, role, created_at, last_login_at FROM users WHERE id = $1`, id)
	return scanPgUser(row)
}

func scanPgUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Subject, &u.Username, &role, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	return &u, nil
}

// --- Submissions ---

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	s.logger.Debug("sql", "op", "insert", "table", "submissions", "id", sub.ID)

	paramsJSON, err := json.Marshal(sub.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	engineJSON, err := json.Marshal(sub.EngineConfig)
	if err != nil {
		return fmt.Errorf("marshal engine config: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, sub.UserID, string(sub.Status), string(sub.ModelType), sub.ModelID, sub.DisplayName,
		paramsJSON, engineJSON, sub.IPHash, sub.PriorityScore, sub.ErrorMsg, sub.RunKey,
		sub.CreatedAt.UTC(), sub.StartedAt, sub.FinishedAt,
	)
	return err
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	s.logger.Debug("sql", "op", "select", "table", "submissions", "id", id)
	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	sub, err := scanPgSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, opts model.ListOptions) ([]*model.Submission, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "submissions", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var args []any

	if opts.Status != "" {
		args = append(args, opts.Status)
		whereClauses = append(whereClauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.UserID != "" {
		args = append(args, opts.UserID)
		whereClauses = append(whereClauses, fmt.Sprintf("user_id = $%d", len(args)))
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submissions`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM submissions%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		submissionColumns, whereSQL, len(args)+1, len(args)+2)
	subs, err := s.querySubmissions(ctx, listQuery, append(args, opts.Limit, opts.Offset)...)
	return subs, total, err
}

func (s *PostgresStore) ListActiveSubmissions(ctx context.Context) ([]*model.Submission, error) {
	s.logger.Debug("sql", "op", "list_active", "table", "submissions")
	return s.querySubmissions(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status = ANY($1) ORDER BY created_at, id`,
		statusStrings(model.ActiveStatuses))
}

func (s *PostgresStore) ListRecentCompleted(ctx context.Context, limit int) ([]*model.Submission, error) {
	s.logger.Debug("sql", "op", "list_recent", "table", "submissions", "limit", limit)
	return s.querySubmissions(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status = ANY($1)
		 ORDER BY COALESCE(finished_at, created_at) DESC, id LIMIT $2`,
		statusStrings(model.TerminalStatuses), limit)
}

func (s *PostgresStore) UpdateSubmission(ctx context.Context, sub *model.Submission) error {
	s.logger.Debug("sql", "op", "update", "table", "submissions", "id", sub.ID)

	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status=$1, priority_score=$2, error_msg=$3, run_key=$4, started_at=$5, finished_at=$6 WHERE id=$7`,
		string(sub.Status), sub.PriorityScore, sub.ErrorMsg, sub.RunKey, sub.StartedAt, sub.FinishedAt, sub.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("submission %s not found", sub.ID)
	}
	return nil
}

func (s *PostgresStore) TransitionSubmission(ctx context.Context, id string, from, to model.SubmissionStatus, finishedAt *time.Time) error {
	s.logger.Debug("sql", "op", "transition", "table", "submissions", "id", id, "from", from, "to", to)

	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status=$1, finished_at=COALESCE($2, finished_at) WHERE id=$3 AND status=$4`,
		string(to), finishedAt, id, string(from),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *PostgresStore) FindBlockingSubmission(ctx context.Context, modelID string) (*model.Submission, error) {
	s.logger.Debug("sql", "op", "find_blocking", "table", "submissions", "model_id", modelID)
	row := s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE lower(model_id) = lower($1) AND status <> ALL($2)
		 ORDER BY created_at, id LIMIT 1`, modelID, statusStrings(model.ResubmittableStatuses))
	sub, err := scanPgSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func (s *PostgresStore) CountUserSubmissionsSince(ctx context.Context, userID string, since time.Time) (int, time.Time, error) {
	s.logger.Debug("sql", "op", "count", "table", "submissions", "user_id", userID)

	var count int
	var oldest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM submissions WHERE user_id = $1 AND created_at >= $2`,
		userID, since.UTC(),
	).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, err
	}
	if oldest != nil {
		return count, oldest.UTC(), nil
	}
	return count, time.Time{}, nil
}

func (s *PostgresStore) CountIPSubmissionsSince(ctx context.Context, ipHash string, since time.Time) (int, error) {
	s.logger.Debug("sql", "op", "count", "table", "submissions", "ip_hash", ipHash)

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE ip_hash = $1 AND created_at >= $2`,
		ipHash, since.UTC(),
	).Scan(&count)
	return count, err
}

func (s *PostgresStore) querySubmissions(ctx context.Context, query string, args ...any) ([]*model.Submission, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*model.Submission
	for rows.Next() {
		sub, err := scanPgSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanPgSubmission(row pgx.Row) (*model.Submission, error) {
	var sub model.Submission
	var status, modelType string
	var paramsJSON, engineJSON []byte

	if err := row.Scan(
		&sub.ID, &sub.UserID, &status, &modelType, &sub.ModelID, &sub.DisplayName,
		&paramsJSON, &engineJSON, &sub.IPHash, &sub.PriorityScore, &sub.ErrorMsg, &sub.RunKey,
		&sub.CreatedAt, &sub.StartedAt, &sub.FinishedAt,
	); err != nil {
		return nil, err
	}

	sub.Status = model.SubmissionStatus(status)
	sub.ModelType = model.ModelType(modelType)
	if err := json.Unmarshal(paramsJSON, &sub.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(engineJSON, &sub.EngineConfig); err != nil {
		return nil, fmt.Errorf("unmarshal engine config: %w", err)
	}
	sub.CreatedAt = sub.CreatedAt.UTC()
	return &sub, nil
}

// --- Leaderboard ---

func (s *PostgresStore) FindLeaderboardEntry(ctx context.Context, modelID string) (*model.LeaderboardEntry, error) {
	s.logger.Debug("sql", "op", "select", "table", "leaderboard", "model_id", modelID)
	var e model.LeaderboardEntry
	err := s.pool.QueryRow(ctx,
		`SELECT model_id, display_name, elo, rank, sample_count, updated_at
		 FROM leaderboard WHERE lower(model_id) = lower($1) LIMIT 1`, modelID,
	).Scan(&e.ModelID, &e.DisplayName, &e.ELO, &e.Rank, &e.SampleCount, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ListLeaderboard(ctx context.Context, opts model.ListOptions) ([]*model.LeaderboardEntry, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "leaderboard", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT model_id, display_name, elo, rank, sample_count, updated_at
		 FROM leaderboard ORDER BY rank, elo DESC, model_id LIMIT $1 OFFSET $2`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.ModelID, &e.DisplayName, &e.ELO, &e.Rank, &e.SampleCount, &e.UpdatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

func (s *PostgresStore) UpsertLeaderboardEntry(ctx context.Context, e *model.LeaderboardEntry) error {
	s.logger.Debug("sql", "op", "upsert", "table", "leaderboard", "model_id", e.ModelID)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leaderboard (model_id, display_name, elo, rank, sample_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (model_id) DO UPDATE SET display_name = EXCLUDED.display_name, elo = EXCLUDED.elo,
		   rank = EXCLUDED.rank, sample_count = EXCLUDED.sample_count, updated_at = EXCLUDED.updated_at`,
		e.ModelID, e.DisplayName, e.ELO, e.Rank, e.SampleCount, e.UpdatedAt.UTC(),
	)
	return err
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
