// Package stats persists verification counters and user settings in a
// single key-value table. Counters are written only by the orchestrator;
// settings flags are written only by the settings surfaces. Badge
// dismissal never reaches this package.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/veritaslabs/aletheia/protocol"
)

// Schema creates the settings/counters table. Pass to dbopen.WithSchema
// or exec it before first use.
const Schema = `
CREATE TABLE IF NOT EXISTS aletheia_kv (
    k TEXT PRIMARY KEY,
    v TEXT NOT NULL
);
`

const (
	keyImagesChecked     = "imagesChecked"
	keyCredentialsFound  = "credentialsFound"
	keyAutoVerify        = "autoVerify"
	keyShowNoCredentials = "showNoCredentials"
)

// Counters is a snapshot of the two monotonic verification counters.
type Counters struct {
	ImagesChecked    int64 `json:"imagesChecked"`
	CredentialsFound int64 `json:"credentialsFound"`
}

// SuccessRate renders credentialsFound/imagesChecked as a percentage with
// one decimal place, or "0" when nothing has been checked yet.
func (c Counters) SuccessRate() string {
	if c.ImagesChecked == 0 {
		return "0"
	}
	return fmt.Sprintf("%.1f", float64(c.CredentialsFound)/float64(c.ImagesChecked)*100)
}

// Settings holds the persisted user flags.
type Settings struct {
	AutoVerify        bool `json:"autoVerify"`
	ShowNoCredentials bool `json:"showNoCredentials"`
}

// Store reads and writes counters and settings. A single mutex serialises
// writers; counter updates are read-modify-write inside one transaction.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over db and ensures the schema exists.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("stats: schema: %w", err)
	}
	return s, nil
}

// RecordVerification applies the counter increment rule for one completed
// verification: imagesChecked always advances, credentialsFound advances
// when the engine found credentials at all (valid, invalid or expired).
// Verdicts of status none or error count as checked only.
func (s *Store) RecordVerification(ctx context.Context, status protocol.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stats: begin: %w", err)
	}
	defer tx.Rollback()

	if err := incr(ctx, tx, keyImagesChecked); err != nil {
		return err
	}
	if status.CredentialFound() {
		if err := incr(ctx, tx, keyCredentialsFound); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stats: commit: %w", err)
	}
	s.logger.Debug("stats: recorded verification", "status", status)
	return nil
}

func incr(ctx context.Context, tx *sql.Tx, key string) error {
	cur, err := getInt(ctx, tx, key)
	if err != nil {
		return err
	}
	if err := put(ctx, tx, key, strconv.FormatInt(cur+1, 10)); err != nil {
		return err
	}
	return nil
}

// Counters returns the current counter snapshot. Missing keys read as zero.
func (s *Store) Counters(ctx context.Context) (Counters, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Counters{}, fmt.Errorf("stats: begin: %w", err)
	}
	defer tx.Rollback()

	checked, err := getInt(ctx, tx, keyImagesChecked)
	if err != nil {
		return Counters{}, err
	}
	found, err := getInt(ctx, tx, keyCredentialsFound)
	if err != nil {
		return Counters{}, err
	}
	return Counters{ImagesChecked: checked, CredentialsFound: found}, nil
}

// Settings returns the persisted flags. Missing keys read as false.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	auto, err := s.getBool(ctx, keyAutoVerify)
	if err != nil {
		return Settings{}, err
	}
	show, err := s.getBool(ctx, keyShowNoCredentials)
	if err != nil {
		return Settings{}, err
	}
	return Settings{AutoVerify: auto, ShowNoCredentials: show}, nil
}

// SetAutoVerify persists the auto-scan flag.
func (s *Store) SetAutoVerify(ctx context.Context, on bool) error {
	return s.setBool(ctx, keyAutoVerify, on)
}

// SetShowNoCredentials persists the none-badge visibility flag.
func (s *Store) SetShowNoCredentials(ctx context.Context, on bool) error {
	return s.setBool(ctx, keyShowNoCredentials, on)
}

func (s *Store) getBool(ctx context.Context, key string) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM aletheia_kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stats: get %s: %w", key, err)
	}
	return v == "true", nil
}

func (s *Store) setBool(ctx context.Context, key string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aletheia_kv (k, v) VALUES (?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, strconv.FormatBool(on))
	if err != nil {
		return fmt.Errorf("stats: set %s: %w", key, err)
	}
	return nil
}

func getInt(ctx context.Context, tx *sql.Tx, key string) (int64, error) {
	var v string
	err := tx.QueryRowContext(ctx, `SELECT v FROM aletheia_kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stats: get %s: %w", key, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stats: parse %s: %w", key, err)
	}
	return n, nil
}

func put(ctx context.Context, tx *sql.Tx, key, val string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO aletheia_kv (k, v) VALUES (?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, val)
	if err != nil {
		return fmt.Errorf("stats: put %s: %w", key, err)
	}
	return nil
}
