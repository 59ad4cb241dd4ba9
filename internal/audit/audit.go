// Package audit implements the Audit Ledger (AL): an append-only,
// AEAD-encrypted event store backed by Postgres, adapted from the original
// single-file SQLite design (core/acl.py) to the teacher's Postgres-oriented
// storage convention (lib/pq, like internal/database in the teacher repo).
package audit

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	_ "github.com/lib/pq"
)

// Event is a decrypted row read back from the ledger.
type Event struct {
	ID            int64
	Timestamp     string
	EventType     string
	Payload       map[string]any
	CorrelationID string
}

// Notification is the best-effort, non-plaintext broadcast shape sent to
// websocket subscribers and the optional Pub/Sub topic after a commit.
type Notification struct {
	EventType     string `json:"event_type"`
	ID            int64  `json:"id"`
	CorrelationID string `json:"correlation_id"`
}

// Notifier receives a fire-and-forget copy of every successful Log call.
// Its Notify must never block the caller or be allowed to fail the write —
// Ledger only calls it after the row is durably committed.
type Notifier interface {
	Notify(n Notification)
}

// Ledger is the Postgres-backed append-only audit store.
type Ledger struct {
	db        *sql.DB
	aead      chacha20poly1305ish
	timeout   time.Duration
	notifiers []Notifier
}

// chacha20poly1305ish is satisfied by *chacha20poly1305's concrete AEAD type;
// named narrowly so tests can swap in a fake without importing crypto/cipher
// directly here.
type chacha20poly1305ish interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// Open connects to dsn and derives the AEAD cipher from encryptionKey, a
// urlsafe-base64-encoded 32-byte key (§6). Callers must call Init once
// before the first Log.
func Open(dsn, encryptionKey string, insertTimeout time.Duration) (*Ledger, error) {
	keyBytes, err := base64.RawURLEncoding.DecodeString(trimPadding(encryptionKey))
	if err != nil {
		keyBytes, err = base64.StdEncoding.DecodeString(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("audit: DB_ENCRYPTION_KEY is not valid base64: %w", err)
		}
	}
	if len(keyBytes) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("audit: DB_ENCRYPTION_KEY must decode to %d bytes, got %d", chacha20poly1305.KeySize, len(keyBytes))
	}
	aead, err := chacha20poly1305.NewX(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("audit: init AEAD: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	return &Ledger{db: db, aead: aead, timeout: insertTimeout}, nil
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}

// AddNotifier registers a best-effort subscriber for post-commit
// notifications. Safe to call before or after Init.
func (l *Ledger) AddNotifier(n Notifier) {
	l.notifiers = append(l.notifiers, n)
}

// Init creates the audit table if absent.
func (l *Ledger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit (
			id BIGSERIAL PRIMARY KEY,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			correlation_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	return nil
}

// Log serializes payload to JSON, encrypts it, and appends one row. It
// returns the new row's id. Serialization never fails the call: an
// unserializable payload falls back to {"__repr__": <go-syntax form>}.
func (l *Ledger) Log(ctx context.Context, eventType string, payload map[string]any, correlationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		payloadJSON, _ = json.Marshal(map[string]string{"__repr__": fmt.Sprintf("%#v", payload)})
	}

	encrypted, err := l.encrypt(payloadJSON)
	if err != nil {
		return 0, fmt.Errorf("audit: encrypt payload: %w", err)
	}

	var id int64
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	err = l.db.QueryRowContext(ctx,
		`INSERT INTO audit (timestamp, event_type, payload, correlation_id) VALUES ($1, $2, $3, $4) RETURNING id`,
		ts, eventType, encrypted, correlationID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit: insert event: %w", err)
	}

	l.broadcast(Notification{EventType: eventType, ID: id, CorrelationID: correlationID})
	return id, nil
}

func (l *Ledger) broadcast(n Notification) {
	for _, sub := range l.notifiers {
		sub.Notify(n)
	}
}

// Get retrieves a single event by id. A decryption or parse failure
// surfaces the raw ciphertext rather than dropping the row.
func (l *Ledger) Get(ctx context.Context, id int64) (*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var (
		ts, eventType, encrypted, correlationID string
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT timestamp, event_type, payload, correlation_id FROM audit WHERE id = $1`, id,
	).Scan(&ts, &eventType, &encrypted, &correlationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: get event %d: %w", id, err)
	}

	return &Event{
		ID:            id,
		Timestamp:     ts,
		EventType:     eventType,
		Payload:       l.decodePayload(encrypted),
		CorrelationID: correlationID,
	}, nil
}

// Recent returns the most recent limit events, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, payload, correlation_id FROM audit ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list recent events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			id                               int64
			ts, eventType, encrypted, corrID string
		)
		if err := rows.Scan(&id, &ts, &eventType, &encrypted, &corrID); err != nil {
			return nil, fmt.Errorf("audit: scan event row: %w", err)
		}
		out = append(out, &Event{
			ID:            id,
			Timestamp:     ts,
			EventType:     eventType,
			Payload:       l.decodePayload(encrypted),
			CorrelationID: corrID,
		})
	}
	return out, rows.Err()
}

func (l *Ledger) decodePayload(encrypted string) map[string]any {
	raw, err := l.decrypt(encrypted)
	if err != nil {
		return map[string]any{"raw": encrypted}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{"raw": encrypted}
	}
	return payload
}

// encrypt seals plaintext with a fresh random nonce prefixed to the
// ciphertext, then base64-encodes the whole thing for TEXT-column storage.
func (l *Ledger) encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, l.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := l.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (l *Ledger) decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	nonceSize := l.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	return l.aead.Open(nil, nonce, ciphertext, nil)
}

// Close releases the underlying connection pool.
func (l *Ledger) Close() error { return l.db.Close() }
