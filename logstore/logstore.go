// Package logstore implements the interaction logger (C7): a durable
// local queue of attacker interaction records, written before a wire
// response goes out and drained by the agent's background uploader.
package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one logged attacker interaction, recorded once per accepted
// request per spec §4.2/§4.7. Metadata keys are protocol-specific
// (modbus.func_code, s7.rosctr, ...).
type Record struct {
	ID        int64             `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	SourceIP  string            `json:"source_ip"`
	Protocol  string            `json:"protocol"`
	Request   []byte            `json:"request"`
	Response  []byte            `json:"response"`
	Metadata  map[string]string `json:"metadata"`
	Uploaded  bool              `json:"uploaded"`
}

// Store is the durable append-only queue backing one agent process. A
// single *sql.DB is safe for concurrent use by multiple protocol
// handlers; ids are assigned by the database's autoincrement column.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite-backed queue at path.
// Pre-existing records are marked uploaded on first open, per spec
// §4.7, so a reused database file never bulk-replays old interactions.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("logstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	protocol TEXT NOT NULL,
	request BLOB NOT NULL,
	response BLOB NOT NULL,
	metadata TEXT NOT NULL,
	uploaded INTEGER NOT NULL DEFAULT 0
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("logstore: create schema: %w", err)
	}

	var existed bool
	row := db.QueryRow(`SELECT COUNT(*) FROM records`)
	var n int
	if err := row.Scan(&n); err == nil && n > 0 {
		existed = true
	}
	if existed {
		if _, err := db.Exec(`UPDATE records SET uploaded = 1 WHERE uploaded = 0`); err != nil {
			db.Close()
			return nil, fmt.Errorf("logstore: mark pre-existing records uploaded: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends rec with uploaded=false and assigns it an id. Callers
// (the Modbus/S7 handlers) must call Record before the wire response is
// sent, per spec §4.2.
func (s *Store) Record(ctx context.Context, rec Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("logstore: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (timestamp, source_ip, protocol, request, response, metadata, uploaded)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.SourceIP, rec.Protocol, rec.Request, rec.Response, meta)
	if err != nil {
		return fmt.Errorf("logstore: insert record: %w", err)
	}
	return nil
}

// PendingBatch returns up to limit of the oldest unuploaded records, in
// id order, for the background uploader to POST to the server.
func (s *Store) PendingBatch(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, source_ip, protocol, request, response, metadata, uploaded
		 FROM records WHERE uploaded = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("logstore: query pending: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts, meta string
		var uploaded int
		if err := rows.Scan(&r.ID, &ts, &r.SourceIP, &r.Protocol, &r.Request, &r.Response, &meta, &uploaded); err != nil {
			return nil, fmt.Errorf("logstore: scan record: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.Uploaded = uploaded != 0
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			r.Metadata = nil
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RekeyNodeID rewrites the "node_id" metadata tag on every record
// carrying oldID to newID. Called when the server renames/adopts an
// agent under a new node id (spec.md §4.9's "on success the old id's
// logs are re-keyed"), so historical logs follow the agent instead of
// staying permanently attributed to the retired id.
func (s *Store) RekeyNodeID(ctx context.Context, oldID, newID string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, metadata FROM records`)
	if err != nil {
		return fmt.Errorf("logstore: query records for rekey: %w", err)
	}

	type rekeyed struct {
		id   int64
		meta string
	}
	var matches []rekeyed
	for rows.Next() {
		var id int64
		var meta string
		if err := rows.Scan(&id, &meta); err != nil {
			rows.Close()
			return fmt.Errorf("logstore: scan record for rekey: %w", err)
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(meta), &m); err != nil || m["node_id"] != oldID {
			continue
		}
		m["node_id"] = newID
		updated, err := json.Marshal(m)
		if err != nil {
			continue
		}
		matches = append(matches, rekeyed{id: id, meta: string(updated)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("logstore: rekey rows: %w", err)
	}
	rows.Close()

	if len(matches) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("logstore: begin rekey tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE records SET metadata = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("logstore: prepare rekey update: %w", err)
	}
	defer stmt.Close()

	for _, m := range matches {
		if _, err := stmt.ExecContext(ctx, m.meta, m.id); err != nil {
			return fmt.Errorf("logstore: rekey record %d: %w", m.id, err)
		}
	}
	return tx.Commit()
}

// MarkUploaded flips uploaded=true for the given ids, called after the
// server acknowledges a batch with HTTP 200.
func (s *Store) MarkUploaded(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("logstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE records SET uploaded = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("logstore: prepare update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("logstore: mark %d uploaded: %w", id, err)
		}
	}
	return tx.Commit()
}
