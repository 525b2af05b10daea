package agenthub

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"
)

// ClientSession is the persistent identity of a calling process, derived
// from its environment rather than any credential. It lets the same client
// reclaim member names across restarts.
type ClientSession struct {
	ClientID    string             `json:"clientId"`
	CreatedAt   string             `json:"createdAt"`
	LastSeenAt  string             `json:"lastSeenAt"`
	Memberships []ClientMembership `json:"memberships"`
}

type ClientMembership struct {
	ProjectID   string `json:"projectId"`
	MemberName  string `json:"memberName"`
	ProjectName string `json:"projectName"`
	JoinedAt    string `json:"joinedAt"`
}

// DeriveClientID turns a caller-supplied working path into a stable client
// id. An explicit override (flag or AGENTHUB_CLIENT_ID) wins, for
// environments where the path is not stable. Empty input yields an empty id,
// which disables session tracking for that caller.
func DeriveClientID(callerPath, override string) string {
	if override != "" {
		return override
	}
	if callerPath == "" {
		return ""
	}
	abs, err := filepath.Abs(filepath.Clean(callerPath))
	if err != nil {
		abs = filepath.Clean(callerPath)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16]
}

// GetClientSession returns the session record, touching its last-seen
// timestamp. Callers with no session id get ErrNotFound.
func (s *Store) GetClientSession(clientID string) (ClientSession, error) {
	session, err := s.getClientSession(clientID)
	s.audit("client.status", "", clientID, err)
	return session, err
}

func (s *Store) getClientSession(clientID string) (ClientSession, error) {
	if err := ValidateIdentifier(clientID, "client_id"); err != nil {
		return ClientSession{}, err
	}
	release, err := s.locks.acquire(clientLockName(clientID), lockOptions{Reason: "client status"})
	if err != nil {
		return ClientSession{}, err
	}
	defer release()

	session, err := s.loadClientLocked(clientID)
	if err != nil {
		return ClientSession{}, err
	}
	session.LastSeenAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := atomicWriteJSON(s.paths.clientFile(clientID), session); err != nil {
		return ClientSession{}, err
	}
	return session, nil
}

func (s *Store) loadClientLocked(clientID string) (ClientSession, error) {
	var session ClientSession
	err := readJSON(s.paths.clientFile(clientID), &session)
	if err == os.ErrNotExist {
		return ClientSession{}, notFoundError("CLIENT_NOT_FOUND", "no session recorded for this client")
	}
	if err != nil {
		return ClientSession{}, err
	}
	return session, nil
}

// touchClient creates or refreshes the session record and, when membership
// is non-nil, upserts the (project, member) tuple.
func (s *Store) touchClient(clientID string, membership *ClientMembership) error {
	if clientID == "" {
		return nil
	}
	release, err := s.locks.acquire(clientLockName(clientID), lockOptions{Reason: "client touch"})
	if err != nil {
		return err
	}
	defer release()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	session, err := s.loadClientLocked(clientID)
	if err != nil {
		if _, ok := CallerError(err); !ok {
			return err
		}
		session = ClientSession{ClientID: clientID, CreatedAt: now}
	}
	session.LastSeenAt = now
	if membership != nil {
		replaced := false
		for i := range session.Memberships {
			if session.Memberships[i].ProjectID == membership.ProjectID && session.Memberships[i].MemberName == membership.MemberName {
				session.Memberships[i] = *membership
				replaced = true
				break
			}
		}
		if !replaced {
			session.Memberships = append(session.Memberships, *membership)
		}
	}
	return atomicWriteJSON(s.paths.clientFile(clientID), session)
}

// dropClientMembership removes one (project, member) tuple from a client
// session, if both exist. Missing records are fine; session upkeep is
// best-effort bookkeeping.
func (s *Store) dropClientMembership(clientID, projectID, memberName string) {
	if clientID == "" {
		return
	}
	release, err := s.locks.acquire(clientLockName(clientID), lockOptions{Reason: "client membership removal"})
	if err != nil {
		s.logger.Warn().Err(err).Str("client", clientID).Msg("skipping client membership removal")
		return
	}
	defer release()

	session, err := s.loadClientLocked(clientID)
	if err != nil {
		return
	}
	kept := session.Memberships[:0]
	for _, m := range session.Memberships {
		if m.ProjectID == projectID && (memberName == "" || m.MemberName == memberName) {
			continue
		}
		kept = append(kept, m)
	}
	session.Memberships = kept
	session.LastSeenAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := atomicWriteJSON(s.paths.clientFile(clientID), session); err != nil {
		s.logger.Warn().Err(err).Str("client", clientID).Msg("persist client session")
	}
}

// scrubProjectFromClients walks all client sessions after a project delete
// and removes its membership tuples.
func (s *Store) scrubProjectFromClients(projectID string) {
	entries, err := os.ReadDir(s.paths.clientsDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s.dropClientMembership(entry.Name(), projectID, "")
	}
}
