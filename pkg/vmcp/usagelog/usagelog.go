// Package usagelog persists an append-only record of every inbound MCP
// call (spec §6's usage_log table) to a pure-Go SQLite database, so the
// process has no cgo dependency.
package usagelog

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oss-vmcp/vmcp/pkg/logger"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/adapter"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vmcp_id TEXT NOT NULL,
	method TEXT NOT NULL,
	tool_name TEXT NOT NULL DEFAULT '',
	server_name TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_log_vmcp_id ON usage_log(vmcp_id);
`

// Store writes UsageEntry rows to a SQLite-backed usage_log table. It
// implements adapter.UsageRecorder.
type Store struct {
	db *sql.DB
}

var _ adapter.UsageRecorder = (*Store)(nil)

// Open opens (creating if needed) the usage log database at dsn, e.g.
// "file:/data/usage.db?_pragma=journal_mode(WAL)".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "opening usage log database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "creating usage_log schema")
	}
	return &Store{db: db}, nil
}

// Record inserts one usage_log row synchronously, waiting at most five
// seconds. Failures are logged, not returned, so a failed write never
// fails the request it is observing.
func (s *Store) Record(entry adapter.UsageEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (vmcp_id, method, tool_name, server_name, started_at, duration_ms, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.VMCPID, entry.Method, entry.ToolName, entry.ServerName, entry.StartedAt, entry.DurationMS, entry.Outcome,
	)
	if err != nil {
		logger.Errorf("usagelog: failed to record entry for vmcp %q: %v", entry.VMCPID, err)
	}
}

// Recent returns the most recent n usage_log rows for vmcpID, newest
// first.
func (s *Store) Recent(ctx context.Context, vmcpID string, n int) ([]adapter.UsageEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT method, tool_name, server_name, started_at, duration_ms, outcome
		 FROM usage_log WHERE vmcp_id = ? ORDER BY started_at DESC LIMIT ?`,
		vmcpID, n,
	)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "querying usage_log")
	}
	defer rows.Close()

	var out []adapter.UsageEntry
	for rows.Next() {
		e := adapter.UsageEntry{VMCPID: vmcpID}
		if err := rows.Scan(&e.Method, &e.ToolName, &e.ServerName, &e.StartedAt, &e.DurationMS, &e.Outcome); err != nil {
			return nil, vmcperrors.Newf(vmcperrors.Internal, err, "scanning usage_log row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
