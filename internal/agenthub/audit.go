package agenthub

import (
	"encoding/json"
	"os"
	"time"
)

type auditRecord struct {
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	ProjectID string `json:"project,omitempty"`
	Actor     string `json:"actor,omitempty"`
	OK        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
}

// audit appends one JSON record per operation to the top-level audit log and
// feeds the operation counter. The append happens under its own lock so
// concurrent processes cannot interleave partial lines. Audit failures are
// logged but never fail the operation itself.
func (s *Store) audit(op, projectID, actor string, opErr error) {
	s.observe(op, opErr)

	rec := auditRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		ProjectID: projectID,
		Actor:     actor,
		OK:        opErr == nil,
	}
	if opErr != nil {
		if e, ok := CallerError(opErr); ok {
			rec.Code = e.Code
		} else {
			rec.Code = "SYSTEM_FAULT"
		}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("marshal audit record")
		return
	}
	line = append(line, '\n')

	release, err := s.locks.acquire(auditLockName, lockOptions{Reason: "audit append"})
	if err != nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("skipping audit append, lock unavailable")
		return
	}
	defer release()

	f, err := os.OpenFile(s.paths.auditFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Error().Err(err).Msg("open audit log")
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		s.logger.Error().Err(err).Msg("append audit record")
	}
}
