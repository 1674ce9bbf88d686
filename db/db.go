// Package db provides the Postgres connection, schema migration and the
// store behind platform tokens, overlay settings and message history.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/multichat/chat"
	"github.com/onnwee/multichat/crypto"
	"github.com/onnwee/multichat/message"
)

const (
	encryptionPlaintext = 0
	encryptionAESGCM    = 1
)

// Defaults for a fresh settings row.
const (
	DefaultMaxMessages       = 50
	DefaultShowPlatformIcons = true
	MaxMaxMessages           = 1000
)

// ErrInvalidSettings is returned by SaveSettings for out of range values.
var ErrInvalidSettings = errors.New("invalid settings")

// Open opens a Postgres pool through the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DB_DSN")
	}
	return sql.Open("pgx", dsn)
}

// SealerFromEnv builds the token sealer from ENCRYPTION_KEY. It returns a nil
// sealer when the variable is unset, in which case tokens are stored as plaintext.
func SealerFromEnv() (crypto.Sealer, error) {
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
		return nil, nil
	}
	g, err := crypto.NewAESGCM(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"), slog.String("key_id", g.KeyID()))
	return g, nil
}

// Store is the data access layer. A nil sealer disables encryption at rest.
type Store struct {
	DB     *sql.DB
	sealer crypto.Sealer
}

func NewStore(db *sql.DB, sealer crypto.Sealer) *Store {
	return &Store{DB: db, sealer: sealer}
}

// Ping checks connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

type tokenRow struct {
	access, refresh, scope, raw string
	expiry                      time.Time
}

func (s *Store) upsertToken(ctx context.Context, provider string, r tokenRow) error {
	version := encryptionPlaintext
	keyID := ""
	access, refresh := r.access, r.refresh
	if s.sealer != nil {
		version = encryptionAESGCM
		keyID = s.sealer.KeyID()
		var err error
		if access, err = crypto.SealString(s.sealer, r.access, provider); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.SealString(s.sealer, r.refresh, provider); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	var expiry any
	if !r.expiry.IsZero() {
		expiry = r.expiry.UTC()
	}
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, raw, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    raw=EXCLUDED.raw,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err := s.DB.ExecContext(ctx, q, provider, access, refresh, expiry, r.scope, r.raw, version, keyID)
	return err
}

// getToken returns (nil, nil) when the provider has no row.
func (s *Store) getToken(ctx context.Context, provider string) (*tokenRow, error) {
	var (
		r       tokenRow
		expiry  sql.NullTime
		version int
		keyID   string
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, raw, encryption_version, encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&r.access, &r.refresh, &expiry, &r.scope, &r.raw, &version, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		r.expiry = expiry.Time
	}
	if version == encryptionAESGCM {
		if s.sealer == nil {
			return nil, fmt.Errorf("token for %s is encrypted but ENCRYPTION_KEY not configured", provider)
		}
		if keyID != "" && keyID != s.sealer.KeyID() {
			return nil, fmt.Errorf("token for %s was sealed with key %s, current key is %s", provider, keyID, s.sealer.KeyID())
		}
		if r.access, err = crypto.OpenString(s.sealer, r.access, provider); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if r.refresh, err = crypto.OpenString(s.sealer, r.refresh, provider); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &r, nil
}

// UpsertOAuthToken stores the token returned by an authorization flow. raw is
// the provider's full token response.
func (s *Store) UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, raw string) error {
	scope := ""
	var probe struct {
		Scope string `json:"scope"`
	}
	if raw != "" && json.Unmarshal([]byte(raw), &probe) == nil {
		scope = probe.Scope
	}
	return s.upsertToken(ctx, provider, tokenRow{access: accessToken, refresh: refreshToken, expiry: expiry, scope: scope, raw: raw})
}

// GetOAuthToken returns zero values when the provider has no row.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, raw string, err error) {
	r, err := s.getToken(ctx, provider)
	if err != nil || r == nil {
		return "", "", time.Time{}, "", err
	}
	return r.access, r.refresh, r.expiry, r.raw, nil
}

// GetToken implements chat.TokenProvider. A missing row or an empty access
// token yields a nil token.
func (s *Store) GetToken(ctx context.Context, platform message.Platform) (*chat.Token, error) {
	r, err := s.getToken(ctx, string(platform))
	if err != nil {
		return nil, fmt.Errorf("load %s token: %w", platform, err)
	}
	if r == nil || r.access == "" {
		return nil, nil
	}
	return &chat.Token{
		Platform:     platform,
		AccessToken:  r.access,
		RefreshToken: r.refresh,
		Expiry:       r.expiry,
		Scope:        r.scope,
	}, nil
}

// SaveToken persists a refreshed or newly issued token.
func (s *Store) SaveToken(ctx context.Context, t chat.Token) error {
	if !t.Platform.Valid() {
		return fmt.Errorf("save token: %w: %q", message.ErrInvalidPlatform, t.Platform)
	}
	return s.upsertToken(ctx, string(t.Platform), tokenRow{
		access:  t.AccessToken,
		refresh: t.RefreshToken,
		expiry:  t.Expiry,
		scope:   t.Scope,
	})
}

// ErrNotPlaintext is returned by SealToken when the row is missing or
// already encrypted.
var ErrNotPlaintext = errors.New("token is not stored as plaintext")

// PlaintextProviders lists providers whose tokens are stored unencrypted,
// for example because they were written before ENCRYPTION_KEY was set.
func (s *Store) PlaintextProviders(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT provider FROM oauth_tokens WHERE encryption_version = $1 ORDER BY provider`, encryptionPlaintext)
	if err != nil {
		return nil, fmt.Errorf("query plaintext tokens: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SealToken encrypts one plaintext row in place with the store's sealer.
func (s *Store) SealToken(ctx context.Context, provider string) error {
	if s.sealer == nil {
		return errors.New("seal token: ENCRYPTION_KEY not configured")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var access, refresh string
	err = tx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token FROM oauth_tokens
		 WHERE provider = $1 AND encryption_version = $2 FOR UPDATE`, provider, encryptionPlaintext).
		Scan(&access, &refresh)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotPlaintext, provider)
	}
	if err != nil {
		return err
	}
	if access, err = crypto.SealString(s.sealer, access, provider); err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if refresh, err = crypto.SealString(s.sealer, refresh, provider); err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE oauth_tokens
		 SET access_token = $1, refresh_token = $2, encryption_version = $3, encryption_key_id = $4, updated_at = NOW()
		 WHERE provider = $5`,
		access, refresh, encryptionAESGCM, s.sealer.KeyID(), provider); err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	return tx.Commit()
}

// Settings are the overlay display preferences.
type Settings struct {
	MaxMessages       int  `json:"maxMessages"`
	ShowPlatformIcons bool `json:"showPlatformIcons"`
}

// DefaultSettings returns the values a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{MaxMessages: DefaultMaxMessages, ShowPlatformIcons: DefaultShowPlatformIcons}
}

// Validate checks that MaxMessages is within 1..MaxMaxMessages.
func (st Settings) Validate() error {
	if st.MaxMessages < 1 || st.MaxMessages > MaxMaxMessages {
		return fmt.Errorf("%w: maxMessages must be between 1 and %d", ErrInvalidSettings, MaxMaxMessages)
	}
	return nil
}

// GetSettings reads the single settings row, falling back to defaults if it is missing.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	st := DefaultSettings()
	err := s.DB.QueryRowContext(ctx, `SELECT max_messages, show_platform_icons FROM settings WHERE id = 1`).
		Scan(&st.MaxMessages, &st.ShowPlatformIcons)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return st, nil
}

// SaveSettings replaces the settings row.
func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO settings(id, max_messages, show_platform_icons, updated_at) VALUES(1,$1,$2,NOW())
		 ON CONFLICT(id) DO UPDATE SET max_messages=EXCLUDED.max_messages, show_platform_icons=EXCLUDED.show_platform_icons, updated_at=NOW()`,
		st.MaxMessages, st.ShowPlatformIcons)
	return err
}

// InsertMessage implements chat.HistoryStore. Re-inserting an id is a no-op.
func (s *Store) InsertMessage(ctx context.Context, m message.Message) error {
	md := m.Metadata
	if md == nil {
		md = map[string]any{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO chat_messages(id, platform, username, message, type, metadata, sent_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7) ON CONFLICT(id) DO NOTHING`,
		m.ID, string(m.Platform), m.User, m.Message, string(m.Type), string(mdJSON), ts.UTC())
	return err
}

// RecentMessages returns up to limit messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = DefaultMaxMessages
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, platform, username, message, type, metadata, sent_at FROM (
		   SELECT id, platform, username, message, type, metadata, sent_at, received_at
		   FROM chat_messages ORDER BY sent_at DESC, received_at DESC LIMIT $1
		 ) recent ORDER BY sent_at ASC, received_at ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]message.Message, 0, limit)
	for rows.Next() {
		var (
			m             message.Message
			platform, typ string
			md            []byte
		)
		if err := rows.Scan(&m.ID, &platform, &m.User, &m.Message, &typ, &md, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Platform = message.Platform(platform)
		m.Type = message.ParseType(typ)
		m.Timestamp = m.Timestamp.UTC()
		if err := json.Unmarshal(md, &m.Metadata); err != nil || m.Metadata == nil {
			m.Metadata = map[string]any{}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
