package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mail-triage/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// IsProcessed reports whether a ledger record exists for the message id.
func (s *SQLiteStore) IsProcessed(ctx context.Context, emailID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed_emails WHERE email_id = ?", emailID,
	)
	if err != nil {
		return false, fmt.Errorf("checking processed %s: %w", emailID, err)
	}
	return count > 0, nil
}

// SaveProcessedRecord inserts or replaces the ledger record for a message.
func (s *SQLiteStore) SaveProcessedRecord(
	ctx context.Context,
	rec model.ProcessedEmailRecord,
) error {
	labels, err := json.Marshal(rec.LabelsApplied)
	if err != nil {
		return fmt.Errorf("marshaling labels for %s: %w", rec.EmailID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO processed_emails (
			email_id, thread_id, sender, subject,
			received_at, processed_at,
			classification, confidence, reasoning, content_summary,
			labels_applied, action_taken, content_format, digest_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EmailID, rec.ThreadID, rec.From, rec.Subject,
		rec.ReceivedAt.UTC(), rec.ProcessedAt.UTC(),
		string(rec.Classification), rec.Confidence, rec.Reasoning,
		rec.ContentSummary, string(labels), string(rec.ActionTaken),
		string(rec.ContentFormat), rec.DigestID,
	)
	if err != nil {
		return fmt.Errorf("saving record %s: %w", rec.EmailID, err)
	}

	return nil
}

// GetRecord retrieves a single ledger record by message id.
// Returns ErrNotFound when no record exists.
func (s *SQLiteStore) GetRecord(
	ctx context.Context,
	emailID string,
) (*model.ProcessedEmailRecord, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM processed_emails WHERE email_id = ?", emailID,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting record %s: %w", emailID, err)
	}

	return &rec, nil
}

// UpdateClassification rewrites a record's classification in place,
// bumping processed_at.
func (s *SQLiteStore) UpdateClassification(
	ctx context.Context,
	emailID string,
	c model.Classification,
) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processed_emails
		SET classification = ?, processed_at = ?
		WHERE email_id = ?`,
		string(c), time.Now().UTC(), emailID,
	)
	if err != nil {
		return fmt.Errorf("updating classification for %s: %w", emailID, err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecordsByDigest retrieves all ledger records attached to a digest.
func (s *SQLiteStore) GetRecordsByDigest(
	ctx context.Context,
	digestID string,
) ([]model.ProcessedEmailRecord, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM processed_emails WHERE digest_id = ? ORDER BY received_at DESC",
		digestID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying records for digest %s: %w", digestID, err)
	}
	defer rows.Close()

	var records []model.ProcessedEmailRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetPendingDigest returns the pending digest, lazily creating one if
// none exists. This is the sink guarantee: the triage loop always has a
// pending digest to attach new records to.
func (s *SQLiteStore) GetPendingDigest(ctx context.Context) (*model.Digest, error) {
	return s.ensurePendingDigest(ctx)
}

// CreatePendingDigest ensures a pending digest exists, minting one with
// a fresh cleanup token when there is none. A pending digest created
// concurrently (a triage tick lazily recreating the sink mid-rotation)
// is adopted rather than duplicated.
func (s *SQLiteStore) CreatePendingDigest(ctx context.Context) (*model.Digest, error) {
	return s.ensurePendingDigest(ctx)
}

// ensurePendingDigest runs the check-then-insert inside one transaction
// so there is never more than one pending digest. The partial unique
// index on digests(status) backstops the invariant at the schema level.
func (s *SQLiteStore) ensurePendingDigest(ctx context.Context) (*model.Digest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning pending-digest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowxContext(ctx,
		"SELECT * FROM digests WHERE status = 'pending' ORDER BY generated_at LIMIT 1",
	)

	d, err := scanDigest(row)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing pending-digest read: %w", err)
		}
		return &d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting pending digest: %w", err)
	}

	d = model.Digest{
		ID:           uuid.New().String(),
		CleanupToken: uuid.New().String(),
		Status:       model.DigestPending,
		GeneratedAt:  time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO digests (id, cleanup_token, status, generated_at, email_count, summary)
		VALUES (?, ?, ?, ?, 0, '')`,
		d.ID, d.CleanupToken, string(d.Status), d.GeneratedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating pending digest: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing pending digest: %w", err)
	}

	return &d, nil
}

// GetDigestByToken looks up a digest by its cleanup token.
// Returns ErrNotFound for an unknown token.
func (s *SQLiteStore) GetDigestByToken(
	ctx context.Context,
	token string,
) (*model.Digest, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM digests WHERE cleanup_token = ?", token,
	)

	d, err := scanDigest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting digest by token: %w", err)
	}

	return &d, nil
}

// MarkDigestSent transitions a digest to sent, recording the item count
// and rendered summary.
func (s *SQLiteStore) MarkDigestSent(
	ctx context.Context,
	id string,
	emailCount int,
	summary string,
) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE digests
		SET status = 'sent', sent_at = ?, email_count = ?, summary = ?
		WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), emailCount, summary, id,
	)
	if err != nil {
		return fmt.Errorf("marking digest %s sent: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDigestCleaned transitions a digest to cleaned.
func (s *SQLiteStore) MarkDigestCleaned(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE digests SET status = 'cleaned', cleaned_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking digest %s cleaned: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveCorrection appends one correction to the learning corpus.
func (s *SQLiteStore) SaveCorrection(ctx context.Context, c model.Correction) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (
			id, email_id, original_classification, corrected_classification,
			reasoning, subject, sender, preview, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EmailID,
		string(c.OriginalClassification), string(c.CorrectedClassification),
		c.Reasoning, c.Subject, c.From, c.Preview, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving correction for %s: %w", c.EmailID, err)
	}

	return nil
}

// GetRecentCorrections retrieves the newest corrections, most recent first.
func (s *SQLiteStore) GetRecentCorrections(
	ctx context.Context,
	limit int,
) ([]model.Correction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM corrections ORDER BY created_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying corrections: %w", err)
	}
	defer rows.Close()

	var corrections []model.Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		corrections = append(corrections, c)
	}

	return corrections, rows.Err()
}

// GetSenderProfile retrieves a sender profile by address.
// Returns ErrNotFound when the sender has not been seen before.
func (s *SQLiteStore) GetSenderProfile(
	ctx context.Context,
	address string,
) (*model.SenderProfile, error) {
	var (
		p         model.SenderProfile
		lastClass string
		firstSeen time.Time
		lastSeen  time.Time
	)

	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM sender_profiles WHERE address = ?", address,
	)
	err := row.Scan(
		&p.Address, &p.Name, &p.MessageCount, &lastClass,
		&firstSeen, &lastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting sender profile %s: %w", address, err)
	}

	p.LastClassification = model.Classification(lastClass)
	p.FirstSeen = firstSeen
	p.LastSeen = lastSeen

	return &p, nil
}

// SaveSenderProfile inserts or replaces a sender profile.
func (s *SQLiteStore) SaveSenderProfile(
	ctx context.Context,
	p model.SenderProfile,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sender_profiles (
			address, name, message_count, last_classification,
			first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Address, p.Name, p.MessageCount, string(p.LastClassification),
		p.FirstSeen.UTC(), p.LastSeen.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving sender profile %s: %w", p.Address, err)
	}

	return nil
}

// GetConfig retrieves a config value; missing keys return "".
func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM app_config WHERE key = ?", key,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("getting config %q: %w", key, err)
	}
	return value, nil
}

// SetConfig inserts or replaces a config value.
func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO app_config (key, value, updated_at)
		VALUES (?, ?, ?)`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting config %q: %w", key, err)
	}
	return nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecordFields scans a processed_emails row in column order.
func scanRecordFields(sc rowScanner) (model.ProcessedEmailRecord, error) {
	var (
		rec            model.ProcessedEmailRecord
		receivedAt     time.Time
		processedAt    time.Time
		classification string
		labelsJSON     string
		actionTaken    string
		contentFormat  string
	)

	err := sc.Scan(
		&rec.EmailID, &rec.ThreadID, &rec.From, &rec.Subject,
		&receivedAt, &processedAt,
		&classification, &rec.Confidence, &rec.Reasoning,
		&rec.ContentSummary, &labelsJSON, &actionTaken,
		&contentFormat, &rec.DigestID,
	)
	if err != nil {
		return model.ProcessedEmailRecord{}, err
	}

	rec.ReceivedAt = receivedAt
	rec.ProcessedAt = processedAt
	rec.Classification = model.Classification(classification)
	rec.ActionTaken = model.ActionTaken(actionTaken)
	rec.ContentFormat = model.ContentFormat(contentFormat)

	if labelsJSON != "" {
		if err := json.Unmarshal([]byte(labelsJSON), &rec.LabelsApplied); err != nil {
			return model.ProcessedEmailRecord{}, fmt.Errorf("unmarshaling labels: %w", err)
		}
	}

	return rec, nil
}

func scanRecord(row *sqlx.Row) (model.ProcessedEmailRecord, error) {
	return scanRecordFields(row)
}

func scanRecordRows(rows *sqlx.Rows) (model.ProcessedEmailRecord, error) {
	rec, err := scanRecordFields(rows)
	if err != nil {
		return model.ProcessedEmailRecord{}, fmt.Errorf("scanning record row: %w", err)
	}
	return rec, nil
}

// scanDigest scans a digests row.
func scanDigest(sc rowScanner) (model.Digest, error) {
	var (
		d           model.Digest
		status      string
		generatedAt time.Time
		sentAt      sql.NullTime
		cleanedAt   sql.NullTime
	)

	err := sc.Scan(
		&d.ID, &d.CleanupToken, &status, &generatedAt,
		&sentAt, &cleanedAt, &d.EmailCount, &d.Summary,
	)
	if err != nil {
		return model.Digest{}, err
	}

	d.Status = model.DigestStatus(status)
	d.GeneratedAt = generatedAt
	if sentAt.Valid {
		t := sentAt.Time
		d.SentAt = &t
	}
	if cleanedAt.Valid {
		t := cleanedAt.Time
		d.CleanedAt = &t
	}

	return d, nil
}

// scanCorrection scans a corrections row from a sqlx.Rows result set.
func scanCorrection(rows *sqlx.Rows) (model.Correction, error) {
	var (
		c         model.Correction
		original  string
		corrected string
		createdAt time.Time
	)

	err := rows.Scan(
		&c.ID, &c.EmailID, &original, &corrected,
		&c.Reasoning, &c.Subject, &c.From, &c.Preview, &createdAt,
	)
	if err != nil {
		return model.Correction{}, fmt.Errorf("scanning correction row: %w", err)
	}

	c.OriginalClassification = model.Classification(original)
	c.CorrectedClassification = model.Classification(corrected)
	c.CreatedAt = createdAt

	return c, nil
}
