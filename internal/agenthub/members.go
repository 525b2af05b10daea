package agenthub

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Member is an agent's identity within exactly one project. The name is the
// caller-chosen key, unique per project; AgentID is server-generated and
// survives a reclaim by the same client session.
type Member struct {
	ProjectID    string            `json:"projectId"`
	Name         string            `json:"name"`
	AgentID      string            `json:"agentId"`
	ClientID     string            `json:"clientId,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	JoinedAt     string            `json:"joinedAt"`
	LastSeenAt   string            `json:"lastSeenAt"`
	Online       bool              `json:"online"`
}

type JoinRequest struct {
	ProjectID    string
	Name         string
	ClientID     string
	Capabilities []string
	Labels       map[string]string
}

// Join registers a member, or lets a reconnecting client reclaim its
// previous name. The decision runs under the member's lock:
//
//   - same client id on both sides: reclaim, keeping agent id and join time
//   - existing holds a different client id: rejected, name taken
//   - existing predates session tracking and the caller has a client id:
//     claim the name and backfill the client id
//   - neither side has a client id: rejected (conservative legacy behavior)
func (s *Store) Join(req JoinRequest) (Member, error) {
	member, err := s.join(req)
	s.audit("member.join", req.ProjectID, req.Name, err)
	return member, err
}

func (s *Store) join(req JoinRequest) (Member, error) {
	if err := ValidateIdentifier(req.ProjectID, "project_id"); err != nil {
		return Member{}, err
	}
	if err := ValidateIdentifier(req.Name, "member_name"); err != nil {
		return Member{}, err
	}
	if req.ClientID != "" {
		if err := ValidateIdentifier(req.ClientID, "client_id"); err != nil {
			return Member{}, err
		}
	}
	project, err := s.requireActiveProject(req.ProjectID)
	if err != nil {
		return Member{}, err
	}

	release, err := s.locks.acquire(memberLockName(req.ProjectID, req.Name), lockOptions{Reason: "member join"})
	if err != nil {
		return Member{}, err
	}
	defer release()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	member := Member{
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		AgentID:      uuid.NewString(),
		ClientID:     req.ClientID,
		Capabilities: req.Capabilities,
		Labels:       req.Labels,
		JoinedAt:     now,
		LastSeenAt:   now,
		Online:       true,
	}

	existing, err := s.loadMember(req.ProjectID, req.Name)
	switch {
	case err == nil:
		switch {
		case existing.ClientID != "" && existing.ClientID == req.ClientID:
			member.AgentID = existing.AgentID
			member.JoinedAt = existing.JoinedAt
		case existing.ClientID == "" && req.ClientID != "":
			member.AgentID = existing.AgentID
			member.JoinedAt = existing.JoinedAt
		default:
			return Member{}, &Error{
				Kind:    KindConflict,
				Code:    CodeNameTaken,
				Message: "member name is held by another session",
				Details: map[string]any{"member": req.Name},
			}
		}
	case isNotFound(err):
		// Fresh join.
	default:
		return Member{}, err
	}

	if err := atomicWriteJSON(s.paths.memberFile(req.ProjectID, req.Name), member); err != nil {
		return Member{}, err
	}
	if err := os.MkdirAll(s.paths.inboxArchiveDir(req.ProjectID, req.Name), 0o755); err != nil {
		return Member{}, err
	}
	if req.ClientID != "" {
		if err := s.touchClient(req.ClientID, &ClientMembership{
			ProjectID:   req.ProjectID,
			MemberName:  req.Name,
			ProjectName: project.Name,
			JoinedAt:    member.JoinedAt,
		}); err != nil {
			s.logger.Warn().Err(err).Str("client", req.ClientID).Msg("record client membership")
		}
	}
	s.logger.Info().
		Str("project", req.ProjectID).
		Str("member", req.Name).
		Str("agent_id", member.AgentID).
		Msg("member joined")
	return member, nil
}

// Heartbeat refreshes liveness. Only the member's own client mutates its
// record; that is cooperative, not enforced cryptographically.
func (s *Store) Heartbeat(projectID, name string) (Member, error) {
	member, err := s.heartbeat(projectID, name)
	s.audit("member.heartbeat", projectID, name, err)
	return member, err
}

func (s *Store) heartbeat(projectID, name string) (Member, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return Member{}, err
	}
	if err := ValidateIdentifier(name, "member_name"); err != nil {
		return Member{}, err
	}
	release, err := s.locks.acquire(memberLockName(projectID, name), lockOptions{Reason: "heartbeat"})
	if err != nil {
		return Member{}, err
	}
	defer release()

	member, err := s.loadMember(projectID, name)
	if err != nil {
		return Member{}, err
	}
	member.LastSeenAt = time.Now().UTC().Format(time.RFC3339Nano)
	member.Online = true
	if err := atomicWriteJSON(s.paths.memberFile(projectID, name), member); err != nil {
		return Member{}, err
	}
	return member, nil
}

// Leave removes the member record. Pending inbox messages are archived, not
// deleted, so they stay forensically available.
func (s *Store) Leave(projectID, name string) error {
	err := s.leave(projectID, name)
	s.audit("member.leave", projectID, name, err)
	return err
}

func (s *Store) leave(projectID, name string) error {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return err
	}
	if err := ValidateIdentifier(name, "member_name"); err != nil {
		return err
	}
	release, err := s.locks.acquire(memberLockName(projectID, name), lockOptions{Reason: "member leave"})
	if err != nil {
		return err
	}
	defer release()

	member, err := s.loadMember(projectID, name)
	if err != nil {
		return err
	}
	if err := s.archivePendingMail(projectID, name); err != nil {
		return err
	}
	if err := os.Remove(s.paths.memberFile(projectID, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.dropClientMembership(member.ClientID, projectID, name)
	s.logger.Info().Str("project", projectID).Str("member", name).Msg("member left")
	return nil
}

func (s *Store) archivePendingMail(projectID, name string) error {
	inbox := s.paths.inboxDir(projectID, name)
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	archive := s.paths.inboxArchiveDir(projectID, name)
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Rename(filepath.Join(inbox, entry.Name()), filepath.Join(archive, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetMember(projectID, name string) (Member, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return Member{}, err
	}
	if err := ValidateIdentifier(name, "member_name"); err != nil {
		return Member{}, err
	}
	if _, err := s.loadProject(projectID); err != nil {
		return Member{}, err
	}
	return s.loadMember(projectID, name)
}

func (s *Store) ListMembers(projectID string) ([]Member, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return nil, err
	}
	if _, err := s.loadProject(projectID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.paths.membersDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Member{}, nil
		}
		return nil, err
	}
	members := make([]Member, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		member, err := s.loadMember(projectID, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.logger.Warn().Err(err).Str("project", projectID).Str("file", entry.Name()).Msg("skipping unreadable member record")
			continue
		}
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members, nil
}

func (s *Store) loadMember(projectID, name string) (Member, error) {
	var member Member
	err := readJSON(s.paths.memberFile(projectID, name), &member)
	if err == os.ErrNotExist {
		return Member{}, notFoundError(CodeMemberNotFound, "member does not exist")
	}
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

func isNotFound(err error) bool {
	e, ok := CallerError(err)
	return ok && e.Kind == KindNotFound
}
