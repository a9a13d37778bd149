package node

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"meshnode/pkg/model"
)

const journalOpTimeout = 2 * time.Second

// Journal is the node's local sqlite survival store: shard results awaiting
// submission and critical alerts are recorded here so nothing is lost while
// the coordinator is unreachable. Every write is best effort; failures are
// logged and swallowed.
type Journal struct {
	db  *sql.DB
	log *zap.Logger
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS shard_results(
	shard_id TEXT PRIMARY KEY,
	provider TEXT,
	compute_ms INTEGER,
	memory_mb INTEGER,
	output BLOB,
	signature BLOB,
	submitted INTEGER,
	ts INTEGER
);
CREATE TABLE IF NOT EXISTS alerts(
	id TEXT PRIMARY KEY,
	severity TEXT,
	category TEXT,
	message TEXT,
	ts INTEGER
);
CREATE TABLE IF NOT EXISTS peers(
	node_id TEXT PRIMARY KEY,
	address TEXT,
	ts INTEGER
);
CREATE INDEX IF NOT EXISTS idx_results_submitted ON shard_results(submitted);
`

// OpenJournal opens (creating if needed) the journal database at path.
func OpenJournal(path string, log *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db, log: log}, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) exec(query string, args ...interface{}) {
	if j == nil || j.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()
	if _, err := j.db.ExecContext(ctx, query, args...); err != nil {
		j.log.Debug("journal write failed", zap.Error(err))
	}
}

// RecordResult stores a shard result, marking whether the coordinator has
// already accepted it.
func (j *Journal) RecordResult(res model.ShardResult, submitted bool) {
	flag := 0
	if submitted {
		flag = 1
	}
	j.exec(`INSERT OR REPLACE INTO shard_results(shard_id, provider, compute_ms, memory_mb, output, signature, submitted, ts)
		VALUES(?,?,?,?,?,?,?,?)`,
		res.ShardID, res.ExecutionProvider, res.ComputeTimeMs, res.MemoryUsedMb,
		res.OutputData, res.Signature, flag, time.Now().Unix())
}

// MarkSubmitted flags a journaled result as delivered.
func (j *Journal) MarkSubmitted(shardID string) {
	j.exec(`UPDATE shard_results SET submitted=1 WHERE shard_id=?`, shardID)
}

// PendingResults returns results recorded while the coordinator was
// unreachable, for resubmission. nodeID restores the owner field dropped
// from storage.
func (j *Journal) PendingResults(nodeID string) []model.ShardResult {
	if j == nil || j.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()
	rows, err := j.db.QueryContext(ctx,
		`SELECT shard_id, provider, compute_ms, memory_mb, output, signature FROM shard_results WHERE submitted=0 ORDER BY ts`)
	if err != nil {
		j.log.Debug("journal read failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var out []model.ShardResult
	for rows.Next() {
		res := model.ShardResult{NodeID: nodeID}
		if err := rows.Scan(&res.ShardID, &res.ExecutionProvider, &res.ComputeTimeMs, &res.MemoryUsedMb, &res.OutputData, &res.Signature); err != nil {
			continue
		}
		out = append(out, res)
	}
	return out
}

// RecordAlert stores a critical alert for post-hoc inspection.
func (j *Journal) RecordAlert(a model.Alert) {
	j.exec(`INSERT OR REPLACE INTO alerts(id, severity, category, message, ts) VALUES(?,?,?,?,?)`,
		a.ID, string(a.Severity), a.Category, a.Message, a.Timestamp.Unix())
}

// RecordPeer stores an introduced peer.
func (j *Journal) RecordPeer(p model.Peer) {
	ts := p.IntroducedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	j.exec(`INSERT OR REPLACE INTO peers(node_id, address, ts) VALUES(?,?,?)`,
		p.NodeID, p.Address, ts.Unix())
}
