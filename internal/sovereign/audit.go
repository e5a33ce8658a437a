package sovereign

import (
	"context"
	"database/sql"
	"time"

	"github.com/yanun0323/errors"
	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS sovereign_audit (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    ts_us      INTEGER NOT NULL,
    command_id TEXT    NOT NULL,
    command    TEXT    NOT NULL,
    payload    TEXT,
    user_id    TEXT    NOT NULL,
    source     TEXT,
    accepted   INTEGER NOT NULL,
    latency_us INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON sovereign_audit(ts_us);
`

// AuditLog is the append-only intervention record. Rows are only ever
// inserted; there is no update or delete path.
type AuditLog struct {
	db *sql.DB
}

// OpenAuditLog opens (or creates) the audit database at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open audit db %q", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply audit schema")
	}
	return &AuditLog{db: db}, nil
}

// Record appends one intervention. Credentials are never written.
func (l *AuditLog) Record(ctx context.Context, cmd Command, accepted bool, latency time.Duration) error {
	if l == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sovereign_audit (ts_us, command_id, command, payload, user_id, source, accepted, latency_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UnixMicro(), cmd.ID.String(), string(cmd.Type), cmd.Payload,
		cmd.UserID, cmd.Source, boolToInt(accepted), latency.Microseconds(),
	)
	if err != nil {
		return errors.Wrap(err, "append audit row")
	}
	return nil
}

// Count returns the number of audited interventions.
func (l *AuditLog) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sovereign_audit`).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (l *AuditLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
