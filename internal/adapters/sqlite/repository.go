package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"optionsPilot/internal/domain"
	"optionsPilot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.ProposalRepository interface using SQLite.
// Execute marks the proposal EXECUTED and notifies the registered listener;
// order routing is the broker collaborator's concern, not the store's.
type Repository struct {
	db       *sql.DB
	logger   ports.Logger
	listener ports.ProposalListener
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/options_pilot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the tick loop and callbacks.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite proposal store ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		instrument_key TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMP NULL,
		updated_at TIMESTAMP NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_status_created ON proposals (status, created_at);
	CREATE INDEX IF NOT EXISTS idx_proposals_side_status ON proposals (side, status);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite proposal store")
		return r.db.Close()
	}
	return nil
}

// SetListener registers the engine's proposal event hooks. Must be called
// before the engine starts ticking.
func (r *Repository) SetListener(l ports.ProposalListener) {
	r.listener = l
}

// Create persists a new proposal and notifies the listener.
func (r *Repository) Create(ctx context.Context, p *domain.Proposal) error {
	const query = `
	INSERT INTO proposals (id, symbol, instrument_key, side, quantity, reason, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Symbol, p.InstrumentKey, string(p.Side), p.Quantity, p.Reason, string(p.Status),
		nullTime(p.CreatedAt), nullTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert proposal %s: %w", p.ID, err)
	}
	r.logger.Debug(ctx, "Proposal created", map[string]interface{}{"proposalId": p.ID, "symbol": p.Symbol})

	if r.listener != nil {
		r.listener.OnProposalCreated(p)
	}
	return nil
}

// FindAll returns every proposal, newest first.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Proposal, error) {
	const query = selectCols + ` FROM proposals ORDER BY created_at DESC`
	return r.queryProposals(ctx, query)
}

// FindPending returns up to limit PENDING proposals. The cap is clamped to
// at least one row.
func (r *Repository) FindPending(ctx context.Context, limit int) ([]*domain.Proposal, error) {
	if limit < 1 {
		limit = 1
	}
	const query = selectCols + ` FROM proposals WHERE status = ? ORDER BY created_at DESC LIMIT ?`
	return r.queryProposals(ctx, query, string(domain.StatusPending), limit)
}

// FindExecutedBuys returns currently EXECUTED BUY proposals, the open
// positions the re-strike manager scans.
func (r *Repository) FindExecutedBuys(ctx context.Context) ([]*domain.Proposal, error) {
	const query = selectCols + ` FROM proposals WHERE status = ? AND side = ? ORDER BY created_at DESC`
	return r.queryProposals(ctx, query, string(domain.StatusExecuted), string(domain.Buy))
}

// Execute transitions a PENDING proposal to EXECUTED and fires the
// execution hook.
func (r *Repository) Execute(ctx context.Context, id string) error {
	const query = `UPDATE proposals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, string(domain.StatusExecuted), time.Now().UTC(), id, string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark proposal %s executed: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for proposal %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("proposal %s not pending: %w", id, ports.ErrNotFound)
	}

	p, err := r.findByID(ctx, id)
	if err != nil {
		return err
	}
	r.logger.Debug(ctx, "Proposal executed", map[string]interface{}{"proposalId": id})
	if r.listener != nil && p != nil {
		r.listener.OnProposalExecuted(p)
	}
	return nil
}

const selectCols = `SELECT id, symbol, instrument_key, side, quantity, reason, status, created_at, updated_at`

func (r *Repository) findByID(ctx context.Context, id string) (*domain.Proposal, error) {
	const query = selectCols + ` FROM proposals WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query proposal %s: %w", id, err)
	}
	return p, nil
}

func (r *Repository) queryProposals(ctx context.Context, query string, args ...interface{}) ([]*domain.Proposal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	proposals := make([]*domain.Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal row: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposal rows: %w", err)
	}
	return proposals, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProposal(row rowScanner) (*domain.Proposal, error) {
	var p domain.Proposal
	var side, status string
	var createdAt, updatedAt sql.NullTime

	if err := row.Scan(&p.ID, &p.Symbol, &p.InstrumentKey, &side, &p.Quantity, &p.Reason, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.ProposalStatus(status)
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return &p, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
