package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/rs/zerolog/log"
)

// Usage records one run that consumed a credential.
type Usage struct {
	Run    string
	UsedAt time.Time
}

// Store implements Provider on top of sqlite and a keyring.
type Store struct {
	db   *sql.DB
	ring keyring.Keyring
	now  func() time.Time
}

func NewStore(db *sql.DB, ring keyring.Keyring) *Store {
	return &Store{db: db, ring: ring, now: time.Now}
}

func (s *Store) Add(ctx context.Context, c *Credentials) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("credentials id is required")
	}
	if strings.TrimSpace(c.Username) == "" || c.AccessKey == "" {
		return errors.New("username and access key are required")
	}
	if c.DataCenter != "" && !IsDataCenter(c.DataCenter) {
		return fmt.Errorf("unknown data center %q", c.DataCenter)
	}

	if err := s.ring.Set(keyring.Item{
		Key:         c.ID,
		Data:        []byte(c.AccessKey),
		Label:       fmt.Sprintf("Sauce Labs access key for %s", c.Username),
		Description: c.Description,
	}); err != nil {
		return fmt.Errorf("failed to store access key: %w", err)
	}

	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO credentials (id, username, data_center, rest_endpoint, description, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		username = excluded.username,
		data_center = excluded.data_center,
		rest_endpoint = excluded.rest_endpoint,
		description = excluded.description,
		updated_at = excluded.updated_at
	`, c.ID, c.Username, c.DataCenter, c.RestEndpoint, c.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, id string) (*Credentials, error) {
	c := &Credentials{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT username, data_center, rest_endpoint, description FROM credentials WHERE id = ?", id,
	).Scan(&c.Username, &c.DataCenter, &c.RestEndpoint, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up credentials %s: %w", id, err)
	}

	item, err := s.ring.Get(id)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: access key for %s is missing from the keyring", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read access key for %s: %w", id, err)
	}
	c.AccessKey = string(item.Data)
	return c, nil
}

// List returns stored credentials without their access keys.
func (s *Store) List(ctx context.Context) ([]Credentials, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, data_center, rest_endpoint, description FROM credentials ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Credentials
	for rows.Next() {
		var c Credentials
		if err := rows.Scan(&c.ID, &c.Username, &c.DataCenter, &c.RestEndpoint, &c.Description); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove credentials %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err = s.ring.Remove(id); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		log.Warn().Err(err).Msgf("Credentials %s removed but the keyring entry could not be deleted.", id)
	}
	return nil
}

// Track records that run used the credential.
func (s *Store) Track(ctx context.Context, id, run string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO credential_usage (credential_id, run, used_at) VALUES (?, ?, ?)",
		id, run, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to track usage of %s: %w", id, err)
	}
	return nil
}

func (s *Store) Usage(ctx context.Context, id string) ([]Usage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run, used_at FROM credential_usage WHERE credential_id = ? ORDER BY id", id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.Run, &u.UsedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
