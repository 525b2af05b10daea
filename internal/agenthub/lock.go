package agenthub

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type lockInfo struct {
	PID        int    `json:"pid"`
	Token      string `json:"token,omitempty"`
	Reason     string `json:"reason,omitempty"`
	AcquiredAt string `json:"acquiredAt"`
}

// lockManager hands out exclusive, named, advisory file locks under
// <root>/locks. Locks are local-machine only. A lock file older than the
// staleness threshold is presumed abandoned by a crashed holder and is
// forcibly reclaimed.
type lockManager struct {
	dir       string
	stale     time.Duration
	timeout   time.Duration
	retry     time.Duration
	logger    zerolog.Logger
	onReclaim func()
}

type lockOptions struct {
	Timeout time.Duration
	Reason  string
}

// acquire blocks until the named lock is held or the timeout elapses. The
// returned release func is safe to call once; it removes the lock file only
// if this holder's token is still the one recorded in it, so a release that
// races a stale-reclaim cannot delete a successor's lock.
func (m *lockManager) acquire(name string, opts lockOptions) (func(), error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	path := filepath.Join(m.dir, name+".lock")
	deadline := time.Now().Add(timeout)
	token := uuid.NewString()

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			info := lockInfo{
				PID:        os.Getpid(),
				Token:      token,
				Reason:     opts.Reason,
				AcquiredAt: time.Now().UTC().Format(time.RFC3339Nano),
			}
			data, _ := json.Marshal(info)
			_, _ = f.Write(data)
			f.Close()
			return func() { m.release(path, token) }, nil
		}
		switch {
		case os.IsExist(err):
			stat, statErr := os.Stat(path)
			if statErr == nil && time.Since(stat.ModTime()) > m.stale {
				m.logger.Warn().
					Str("lock", name).
					Dur("age", time.Since(stat.ModTime())).
					Msg("reclaiming stale lock")
				_ = os.Remove(path)
				if m.onReclaim != nil {
					m.onReclaim()
				}
				continue
			}
		case os.IsNotExist(err):
			// Locks dir missing; recreate it and retry under the deadline.
			if mkErr := os.MkdirAll(m.dir, 0o755); mkErr != nil {
				return nil, mkErr
			}
		default:
			// ENOSPC, EACCES and the like never resolve by retrying.
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, &Error{
				Kind:    KindConflict,
				Code:    CodeLockTimeout,
				Message: "timed out waiting for lock",
				Details: map[string]any{"lock": name},
			}
		}
		time.Sleep(m.retry)
	}
}

// release removes the lock file if it still carries the holder's token.
// Legacy lock files without a token are removed unconditionally.
func (m *lockManager) release(path, token string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.Token != "" && info.Token != token {
		return
	}
	_ = os.Remove(path)
}
