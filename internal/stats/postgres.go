package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/config"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// DB wraps the statistics database connection
type DB struct {
	*sqlx.DB
	config *config.DatabaseConfig
}

// ConnString builds a lib/pq connection string from the configuration
func ConnString(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

// Open connects to PostgreSQL and configures the pool
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}

	db, err := sqlx.Connect("postgres", ConnString(cfg))
	if err != nil {
		return nil, errors.NewInternalError("failed to connect to database").WithCause(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewInternalError("failed to ping database").WithCause(err)
	}

	return &DB{DB: db, config: cfg}, nil
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	if db.DB == nil {
		return errors.NewInternalError("database connection is nil")
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.NewInternalError("database health check failed").WithCause(err)
	}
	return nil
}

// WithTransaction executes fn within a transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewInternalError("failed to begin transaction").WithCause(err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.NewInternalError("failed to rollback transaction").
				WithCause(fmt.Errorf("original error: %v, rollback error: %v", err, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternalError("failed to commit transaction").WithCause(err)
	}
	return nil
}

type eventRow struct {
	EventID      string       `db:"event_id"`
	Provider     string       `db:"provider"`
	Project      string       `db:"project"`
	PipelineID   string       `db:"pipeline_id"`
	Status       string       `db:"status"`
	SuccessCount int          `db:"success_count"`
	ErrorCount   int          `db:"error_count"`
	Error        string       `db:"error"`
	ReceivedAt   time.Time    `db:"received_at"`
	CompletedAt  sql.NullTime `db:"completed_at"`
}

type attemptRow struct {
	EventID     string    `db:"event_id"`
	Seq         int       `db:"seq"`
	Sink        string    `db:"sink"`
	Stage       string    `db:"stage"`
	Outcome     string    `db:"outcome"`
	StatusCode  int       `db:"status_code"`
	DurationMs  int64     `db:"duration_ms"`
	Error       string    `db:"error"`
	Warning     string    `db:"warning"`
	AttemptedAt time.Time `db:"attempted_at"`
}

// PostgresRecorder stores outcomes in the pipeline_events and
// delivery_attempts tables
type PostgresRecorder struct {
	db *DB
}

// NewPostgresRecorder creates a recorder on an open connection
func NewPostgresRecorder(db *DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// RecordReceived inserts the event row. A repeated event id is left untouched.
func (r *PostgresRecorder) RecordReceived(ctx context.Context, eventID string, event types.PipelineEvent, receivedAt time.Time) error {
	query := `
		INSERT INTO pipeline_events (event_id, provider, project, pipeline_id, status, received_at)
		VALUES (:event_id, :provider, :project, :pipeline_id, :status, :received_at)
		ON CONFLICT (event_id) DO NOTHING`

	row := eventRow{
		EventID:    eventID,
		Provider:   string(event.Provider),
		Project:    projectOf(event),
		PipelineID: event.ID,
		Status:     string(types.EventStatusReceived),
		ReceivedAt: receivedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.NewInternalError("failed to record received event").WithCause(err)
	}
	return nil
}

// RecordOutcome upserts the terminal state and replaces the attempt rows
func (r *PostgresRecorder) RecordOutcome(ctx context.Context, outcome types.EventOutcome) error {
	if outcome.EventID == "" {
		return errors.NewValidationError("event id is required")
	}

	receivedAt := outcome.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = outcome.CompletedAt
	}

	row := eventRow{
		EventID:      outcome.EventID,
		Provider:     string(outcome.Provider),
		Project:      outcome.Project,
		PipelineID:   outcome.PipelineID,
		Status:       string(outcome.Status),
		SuccessCount: outcome.SuccessCount,
		ErrorCount:   outcome.ErrorCount,
		Error:        outcome.Error,
		ReceivedAt:   receivedAt,
		CompletedAt:  sql.NullTime{Time: outcome.CompletedAt, Valid: !outcome.CompletedAt.IsZero()},
	}

	return r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO pipeline_events
				(event_id, provider, project, pipeline_id, status, success_count, error_count, error, received_at, completed_at)
			VALUES
				(:event_id, :provider, :project, :pipeline_id, :status, :success_count, :error_count, :error, :received_at, :completed_at)
			ON CONFLICT (event_id) DO UPDATE SET
				status = EXCLUDED.status,
				success_count = EXCLUDED.success_count,
				error_count = EXCLUDED.error_count,
				error = EXCLUDED.error,
				completed_at = EXCLUDED.completed_at`

		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return errors.NewInternalError("failed to record event outcome").WithCause(err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE event_id = $1`, outcome.EventID); err != nil {
			return errors.NewInternalError("failed to clear delivery attempts").WithCause(err)
		}

		insert := `
			INSERT INTO delivery_attempts
				(event_id, seq, sink, stage, outcome, status_code, duration_ms, error, warning, attempted_at)
			VALUES
				(:event_id, :seq, :sink, :stage, :outcome, :status_code, :duration_ms, :error, :warning, :attempted_at)`

		for i, attempt := range outcome.Attempts {
			arow := attemptRow{
				EventID:     outcome.EventID,
				Seq:         i,
				Sink:        attempt.Sink,
				Stage:       attempt.Stage,
				Outcome:     attempt.Outcome,
				StatusCode:  attempt.StatusCode,
				DurationMs:  attempt.Duration.Milliseconds(),
				Error:       attempt.Error,
				Warning:     attempt.Warning,
				AttemptedAt: attempt.At,
			}
			if _, err := tx.NamedExecContext(ctx, insert, arow); err != nil {
				return errors.NewInternalError("failed to record delivery attempt").WithCause(err)
			}
		}
		return nil
	})
}

// GetOutcome loads an event and its attempts
func (r *PostgresRecorder) GetOutcome(ctx context.Context, eventID string) (*types.EventOutcome, error) {
	var row eventRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM pipeline_events WHERE event_id = $1`, eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("event")
		}
		return nil, errors.NewInternalError("failed to get event").WithCause(err)
	}

	var attempts []attemptRow
	err = r.db.SelectContext(ctx, &attempts, `
		SELECT event_id, seq, sink, stage, outcome, status_code, duration_ms, error, warning, attempted_at
		FROM delivery_attempts WHERE event_id = $1 ORDER BY seq`, eventID)
	if err != nil {
		return nil, errors.NewInternalError("failed to get delivery attempts").WithCause(err)
	}

	outcome := &types.EventOutcome{
		EventID:      row.EventID,
		Provider:     types.Provider(row.Provider),
		Project:      row.Project,
		PipelineID:   row.PipelineID,
		Status:       types.EventStatus(row.Status),
		SuccessCount: row.SuccessCount,
		ErrorCount:   row.ErrorCount,
		Error:        row.Error,
		ReceivedAt:   row.ReceivedAt,
	}
	if row.CompletedAt.Valid {
		outcome.CompletedAt = row.CompletedAt.Time
	}
	for _, a := range attempts {
		outcome.Attempts = append(outcome.Attempts, types.DeliveryAttempt{
			Sink:       a.Sink,
			Stage:      a.Stage,
			Outcome:    a.Outcome,
			StatusCode: a.StatusCode,
			Duration:   time.Duration(a.DurationMs) * time.Millisecond,
			Error:      a.Error,
			Warning:    a.Warning,
			At:         a.AttemptedAt,
		})
	}
	return outcome, nil
}
