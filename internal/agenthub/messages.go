package agenthub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one unit of communication. Exactly one of Recipient and
// Broadcast is set. Broadcast fans out to one on-disk copy per recipient.
type Message struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId"`
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient,omitempty"`
	Broadcast     bool   `json:"broadcast,omitempty"`
	ReplyExpected bool   `json:"replyExpected"`
	Payload       string `json:"payload"`
	CreatedAt     string `json:"createdAt"`
	Priority      string `json:"priority,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
}

type SendRequest struct {
	ProjectID     string
	Sender        string
	Recipient     string
	Broadcast     bool
	ReplyExpected bool
	Payload       string
	Priority      string
	TraceID       string
}

type SendResult struct {
	MessageID  string   `json:"messageId"`
	Recipients []string `json:"recipients"`
}

// Send delivers a message to one member or broadcasts it to every other
// current member. Broadcast delivery is concurrent and best-effort: copies
// that landed stay delivered, and any failures are reported by recipient
// name rather than rolled back or swallowed.
func (s *Store) Send(req SendRequest) (SendResult, error) {
	result, err := s.send(req)
	s.audit("message.send", req.ProjectID, req.Sender, err)
	return result, err
}

func (s *Store) send(req SendRequest) (SendResult, error) {
	if err := ValidateIdentifier(req.ProjectID, "project_id"); err != nil {
		return SendResult{}, err
	}
	if err := ValidateIdentifier(req.Sender, "sender"); err != nil {
		return SendResult{}, err
	}
	if req.Broadcast == (req.Recipient != "") {
		return SendResult{}, validationError(CodeAmbiguousTarget, "specify exactly one of recipient or broadcast")
	}
	if req.Recipient != "" {
		if err := ValidateIdentifier(req.Recipient, "recipient"); err != nil {
			return SendResult{}, err
		}
	}
	if _, err := s.requireActiveProject(req.ProjectID); err != nil {
		return SendResult{}, err
	}
	if _, err := s.loadMember(req.ProjectID, req.Sender); err != nil {
		return SendResult{}, err
	}

	msg := Message{
		ID:            uuid.NewString(),
		ProjectID:     req.ProjectID,
		Sender:        req.Sender,
		Recipient:     req.Recipient,
		Broadcast:     req.Broadcast,
		ReplyExpected: req.ReplyExpected,
		Payload:       req.Payload,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Priority:      req.Priority,
		TraceID:       req.TraceID,
	}

	if !req.Broadcast {
		if _, err := s.loadMember(req.ProjectID, req.Recipient); err != nil {
			return SendResult{}, err
		}
		if err := s.deliver(msg, req.Recipient); err != nil {
			return SendResult{}, err
		}
		return SendResult{MessageID: msg.ID, Recipients: []string{req.Recipient}}, nil
	}

	members, err := s.ListMembers(req.ProjectID)
	if err != nil {
		return SendResult{}, err
	}
	recipients := make([]string, 0, len(members))
	for _, member := range members {
		if member.Name != req.Sender {
			recipients = append(recipients, member.Name)
		}
	}
	s.metrics.ObserveBroadcast(len(recipients))

	type outcome struct {
		recipient string
		err       error
	}
	results := make([]outcome, len(recipients))
	var wg sync.WaitGroup
	for i, recipient := range recipients {
		wg.Add(1)
		go func(i int, recipient string) {
			defer wg.Done()
			results[i] = outcome{recipient: recipient, err: s.deliver(msg, recipient)}
		}(i, recipient)
	}
	wg.Wait()

	delivered := make([]string, 0, len(recipients))
	failed := make([]string, 0)
	for _, r := range results {
		if r.err != nil {
			s.logger.Error().Err(r.err).
				Str("project", req.ProjectID).
				Str("recipient", r.recipient).
				Msg("broadcast delivery failed")
			failed = append(failed, r.recipient)
		} else {
			delivered = append(delivered, r.recipient)
		}
	}
	if len(failed) > 0 {
		return SendResult{}, &Error{
			Kind:    KindConflict,
			Code:    CodeBroadcastPartial,
			Message: "broadcast was not delivered to every member",
			Details: map[string]any{"failed": failed, "delivered": delivered},
		}
	}
	return SendResult{MessageID: msg.ID, Recipients: delivered}, nil
}

// deliver writes one copy of the message into a recipient inbox. The
// filename embeds send-time nanoseconds so plain lexicographic order equals
// arrival order.
func (s *Store) deliver(msg Message, recipient string) error {
	msg.Recipient = recipient
	name := fmt.Sprintf("%020d_%s.json", time.Now().UnixNano(), msg.ID)
	dest := filepath.Join(s.paths.inboxDir(msg.ProjectID, recipient), name)
	return atomicWriteJSON(dest, msg)
}

type ReceiveRequest struct {
	ProjectID string
	Member    string
	Offset    int
	Limit     int
}

// Receive lists pending inbox messages in arrival order, skipping any older
// than the configured TTL, and archives every message it returns so the same
// message is never handed to this member twice. The whole read runs under
// the member's inbox lock so concurrent receives cannot double-consume.
func (s *Store) Receive(req ReceiveRequest) ([]Message, error) {
	messages, err := s.receive(req)
	s.audit("message.receive", req.ProjectID, req.Member, err)
	return messages, err
}

func (s *Store) receive(req ReceiveRequest) ([]Message, error) {
	if err := ValidateIdentifier(req.ProjectID, "project_id"); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(req.Member, "member_name"); err != nil {
		return nil, err
	}
	if _, err := s.loadProject(req.ProjectID); err != nil {
		return nil, err
	}
	if _, err := s.loadMember(req.ProjectID, req.Member); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	release, err := s.locks.acquire(inboxLockName(req.ProjectID, req.Member), lockOptions{Reason: "inbox receive"})
	if err != nil {
		return nil, err
	}
	defer release()

	inbox := s.paths.inboxDir(req.ProjectID, req.Member)
	names, err := pendingMessageNames(inbox)
	if err != nil {
		return nil, err
	}

	archive := s.paths.inboxArchiveDir(req.ProjectID, req.Member)
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return nil, err
	}

	ttl := s.cfg.messageTTL()
	now := time.Now()
	messages := make([]Message, 0, limit)
	fresh := 0
	for _, name := range names {
		sentAt, ok := messageTimestamp(name)
		if ok && now.Sub(sentAt) > ttl {
			// Expired: ignored, left in place.
			continue
		}
		if fresh < offset {
			fresh++
			continue
		}
		fresh++
		if len(messages) >= limit {
			break
		}
		var msg Message
		path := filepath.Join(inbox, name)
		if err := readJSON(path, &msg); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable message file")
			continue
		}
		if err := os.Rename(path, filepath.Join(archive, name)); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// AwaitMessages is the wait-variant of Receive. ok=false with nil error is
// the explicit timeout result; with wait disabled callers should use Receive
// directly, which behaves like a single poll tick.
func (s *Store) AwaitMessages(ctx context.Context, req ReceiveRequest, timeout time.Duration) (messages []Message, ok bool, err error) {
	defer func() { s.audit("message.receive_wait", req.ProjectID, req.Member, err) }()
	if err := ValidateIdentifier(req.ProjectID, "project_id"); err != nil {
		return nil, false, err
	}
	if err := ValidateIdentifier(req.Member, "member_name"); err != nil {
		return nil, false, err
	}
	key := "inbox:" + req.ProjectID + ":" + req.Member
	ok, err = s.waiters.await(ctx, key, s.paths.inboxDir(req.ProjectID, req.Member), timeout, func() (bool, error) {
		got, err := s.receive(req)
		if err != nil {
			return false, err
		}
		if len(got) == 0 {
			return false, nil
		}
		messages = got
		return true, nil
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return messages, true, nil
}

// Acknowledge archives one specific still-pending message. It is idempotent:
// acknowledging a message that was already consumed or acknowledged succeeds.
func (s *Store) Acknowledge(projectID, member, messageID string) error {
	err := s.acknowledge(projectID, member, messageID)
	s.audit("message.acknowledge", projectID, member, err)
	return err
}

func (s *Store) acknowledge(projectID, member, messageID string) error {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return err
	}
	if err := ValidateIdentifier(member, "member_name"); err != nil {
		return err
	}
	if err := ValidateIdentifier(messageID, "message_id"); err != nil {
		return err
	}
	if _, err := s.loadMember(projectID, member); err != nil {
		return err
	}

	release, err := s.locks.acquire(inboxLockName(projectID, member), lockOptions{Reason: "acknowledge"})
	if err != nil {
		return err
	}
	defer release()

	suffix := "_" + messageID + ".json"
	inbox := s.paths.inboxDir(projectID, member)
	names, err := pendingMessageNames(inbox)
	if err != nil {
		return err
	}
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			archive := s.paths.inboxArchiveDir(projectID, member)
			if err := os.MkdirAll(archive, 0o755); err != nil {
				return err
			}
			return os.Rename(filepath.Join(inbox, name), filepath.Join(archive, name))
		}
	}

	archived, err := pendingMessageNames(s.paths.inboxArchiveDir(projectID, member))
	if err != nil {
		return err
	}
	for _, name := range archived {
		if strings.HasSuffix(name, suffix) {
			return nil
		}
	}
	return notFoundError(CodeMessageNotFound, "message does not exist")
}

func pendingMessageNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// messageTimestamp recovers the send time embedded in a message filename.
func messageTimestamp(name string) (time.Time, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
