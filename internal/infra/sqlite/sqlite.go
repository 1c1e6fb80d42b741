// Package sqlite persists oracle state: reputation records, completed
// requests with their responses, and the reward book. It implements the
// domain snapshot store and the load paths used to warm the in-memory
// layers at startup.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eres45/EcoChain/internal/domain"
)

// DB wraps the SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc's driver serializes access per connection; a single
	// connection avoids table-lock errors under concurrent writers.
	handle.SetMaxOpenConns(1)

	db := &DB{db: handle}
	if err := db.migrate(); err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error { return db.db.Close() }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements. Each string is a single SQL
// statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Reputation records, one row per tracked entity
		`CREATE TABLE IF NOT EXISTS reputation_records (
			entity_id        TEXT PRIMARY KEY,
			score            REAL NOT NULL,
			last_updated     TEXT NOT NULL,
			creation_time    TEXT NOT NULL,
			accuracy_samples INTEGER NOT NULL DEFAULT 0
		)`,

		// Requests, persisted on finalization
		`CREATE TABLE IF NOT EXISTS requests (
			request_id     TEXT PRIMARY KEY,
			data_type      TEXT NOT NULL,
			parameters     TEXT NOT NULL DEFAULT '{}',
			requester      TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			deadline       TEXT,
			min_providers  INTEGER NOT NULL DEFAULT 1,
			min_reputation REAL NOT NULL DEFAULT 0,
			status         TEXT NOT NULL,
			result         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,

		// Responses that contributed to a persisted request
		`CREATE TABLE IF NOT EXISTS responses (
			request_id   TEXT NOT NULL,
			provider_id  TEXT NOT NULL,
			data         TEXT NOT NULL,
			submitted_at TEXT NOT NULL,
			signature    TEXT,
			status       TEXT NOT NULL,
			verified     INTEGER,
			PRIMARY KEY (request_id, provider_id)
		)`,

		// Reward book entries; ids are assigned by the in-memory book
		`CREATE TABLE IF NOT EXISTS reward_entries (
			id          INTEGER PRIMARY KEY,
			created_at  TEXT NOT NULL,
			request_id  TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			kind        TEXT NOT NULL,
			amount      REAL NOT NULL,
			accuracy    REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rewards_provider ON reward_entries(provider_id)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Time Encoding ──────────────────────────────────────────────────────────

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ─── Reputation Operations ──────────────────────────────────────────────────

// SaveReputation upserts one entity's trust record.
func (db *DB) SaveReputation(snap domain.ReputationSnapshot) error {
	_, err := db.db.Exec(`
		INSERT INTO reputation_records (entity_id, score, last_updated, creation_time, accuracy_samples)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			score            = excluded.score,
			last_updated     = excluded.last_updated,
			accuracy_samples = excluded.accuracy_samples
	`, snap.EntityID, snap.Score, encodeTime(snap.LastUpdated), encodeTime(snap.CreationTime), snap.AccuracySamples)
	return err
}

// LoadReputations returns every persisted reputation record.
func (db *DB) LoadReputations() ([]domain.ReputationSnapshot, error) {
	rows, err := db.db.Query(`
		SELECT entity_id, score, last_updated, creation_time, accuracy_samples
		FROM reputation_records
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReputationSnapshot
	for rows.Next() {
		var snap domain.ReputationSnapshot
		var updated, created string
		if err := rows.Scan(&snap.EntityID, &snap.Score, &updated, &created, &snap.AccuracySamples); err != nil {
			return nil, err
		}
		snap.LastUpdated = decodeTime(updated)
		snap.CreationTime = decodeTime(created)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ─── Request Operations ─────────────────────────────────────────────────────

// SaveRequest upserts a request and its responses. Called once per request
// when it reaches a terminal state.
func (db *DB) SaveRequest(req *domain.DataRequest, responses []*domain.DataResponse) error {
	params, err := json.Marshal(req.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	var result sql.NullString
	if req.Result != nil {
		raw, err := json.Marshal(req.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = sql.NullString{String: string(raw), Valid: true}
	}
	var deadline sql.NullString
	if req.HasDeadline() {
		deadline = sql.NullString{String: encodeTime(req.Deadline), Valid: true}
	}

	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO requests (request_id, data_type, parameters, requester, created_at,
			deadline, min_providers, min_reputation, status, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result
	`, req.RequestID, req.DataType, string(params), req.Requester, encodeTime(req.Timestamp),
		deadline, req.MinProviders, req.MinReputation, string(req.Status), result)
	if err != nil {
		return err
	}

	for _, resp := range responses {
		data, err := json.Marshal(resp.Data)
		if err != nil {
			return fmt.Errorf("encode response data: %w", err)
		}
		var verified sql.NullInt64
		if resp.VerificationResult != nil {
			v := int64(0)
			if *resp.VerificationResult {
				v = 1
			}
			verified = sql.NullInt64{Int64: v, Valid: true}
		}
		_, err = tx.Exec(`
			INSERT OR REPLACE INTO responses (request_id, provider_id, data, submitted_at, signature, status, verified)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, resp.RequestID, resp.ProviderID, string(data), encodeTime(resp.Timestamp),
			resp.Signature, string(resp.Status), verified)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRequest loads one persisted request, or sql.ErrNoRows.
func (db *DB) GetRequest(requestID string) (*domain.DataRequest, error) {
	var (
		req              domain.DataRequest
		params           string
		created          string
		deadline, result sql.NullString
		status           string
	)
	err := db.db.QueryRow(`
		SELECT request_id, data_type, parameters, requester, created_at,
			deadline, min_providers, min_reputation, status, result
		FROM requests WHERE request_id = ?
	`, requestID).Scan(&req.RequestID, &req.DataType, &params, &req.Requester, &created,
		&deadline, &req.MinProviders, &req.MinReputation, &status, &result)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &req.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	req.Timestamp = decodeTime(created)
	if deadline.Valid {
		req.Deadline = decodeTime(deadline.String)
	}
	req.Status = domain.RequestStatus(status)
	if result.Valid {
		var p domain.Payload
		if err := json.Unmarshal([]byte(result.String), &p); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		req.Result = &p
	}
	return &req, nil
}

// GetResponses loads the persisted responses for a request.
func (db *DB) GetResponses(requestID string) ([]*domain.DataResponse, error) {
	rows, err := db.db.Query(`
		SELECT request_id, provider_id, data, submitted_at, signature, status, verified
		FROM responses WHERE request_id = ?
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DataResponse
	for rows.Next() {
		var (
			resp      domain.DataResponse
			data      string
			submitted string
			status    string
			verified  sql.NullInt64
		)
		if err := rows.Scan(&resp.RequestID, &resp.ProviderID, &data, &submitted,
			&resp.Signature, &status, &verified); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &resp.Data); err != nil {
			return nil, fmt.Errorf("decode response data: %w", err)
		}
		resp.Timestamp = decodeTime(submitted)
		resp.Status = domain.ResponseStatus(status)
		if verified.Valid {
			v := verified.Int64 == 1
			resp.VerificationResult = &v
		}
		out = append(out, &resp)
	}
	return out, rows.Err()
}

// CountRequestsByStatus returns terminal-request totals for startup stats.
func (db *DB) CountRequestsByStatus() (map[domain.RequestStatus]int, error) {
	rows, err := db.db.Query(`SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.RequestStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.RequestStatus(status)] = n
	}
	return out, rows.Err()
}

// ─── Reward Operations ──────────────────────────────────────────────────────

// SaveReward inserts one reward book entry.
func (db *DB) SaveReward(entry domain.RewardEntry) error {
	var accuracy sql.NullFloat64
	if entry.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *entry.Accuracy, Valid: true}
	}
	_, err := db.db.Exec(`
		INSERT OR REPLACE INTO reward_entries (id, created_at, request_id, provider_id, kind, amount, accuracy)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, encodeTime(entry.Timestamp), entry.RequestID, entry.ProviderID,
		string(entry.Kind), entry.Amount, accuracy)
	return err
}

// LoadRewards returns every persisted reward entry in id order.
func (db *DB) LoadRewards() ([]domain.RewardEntry, error) {
	rows, err := db.db.Query(`
		SELECT id, created_at, request_id, provider_id, kind, amount, accuracy
		FROM reward_entries ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RewardEntry
	for rows.Next() {
		var (
			e        domain.RewardEntry
			created  string
			kind     string
			accuracy sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &created, &e.RequestID, &e.ProviderID, &kind, &e.Amount, &accuracy); err != nil {
			return nil, err
		}
		e.Timestamp = decodeTime(created)
		e.Kind = domain.RewardKind(kind)
		if accuracy.Valid {
			v := accuracy.Float64
			e.Accuracy = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
