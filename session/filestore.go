package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// record is the on-disk metadata for an ephemeral session.
type record struct {
	ID         string    `json:"id"`
	Persistent bool      `json:"persistent"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

func (r *Registry) recordPath(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *Registry) writeRecord(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(r.recordPath(rec.ID), data, 0o644)
}

// readRecord loads an ephemeral session's metadata. A missing or corrupt
// file reads as "no record"; corruption is logged, never fatal.
func (r *Registry) readRecord(id string) (record, bool) {
	data, err := os.ReadFile(r.recordPath(id))
	if err != nil {
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		r.logger.Warn("corrupt session metadata file",
			zap.String("session_id", id), zap.Error(err))
		return record{}, false
	}
	if rec.LastActive.IsZero() {
		r.logger.Warn("session metadata missing last_active",
			zap.String("session_id", id))
		return record{}, false
	}
	return rec, true
}

// SweepExpired deletes every ephemeral metadata record whose last_active is
// older than the TTL and returns the number removed. A single corrupt
// record is skipped and logged, not fatal to the sweep.
func (r *Registry) SweepExpired() int {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.logger.Error("session sweep failed to read directory",
			zap.String("dir", r.dir), zap.Error(err))
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("sweep could not read session file",
				zap.String("file", path), zap.Error(err))
			continue
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			r.logger.Warn("sweep skipping corrupt session file",
				zap.String("file", path), zap.Error(err))
			continue
		}
		if time.Since(rec.LastActive) <= r.ttl {
			continue
		}
		if err := os.Remove(path); err != nil {
			r.logger.Warn("sweep failed to remove expired session",
				zap.String("file", path), zap.Error(err))
			continue
		}
		removed++
		r.logger.Debug("removed expired session", zap.String("session_id", rec.ID))
	}

	r.logger.Info("session sweep completed", zap.Int("removed", removed))
	return removed
}
