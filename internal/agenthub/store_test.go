package agenthub

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// fastTestConfig keeps lock and wait budgets small so failure-path tests do
// not stall the suite.
func fastTestConfig() SystemConfig {
	cfg := defaultSystemConfig()
	cfg.LockTimeoutSeconds = 1
	cfg.LockRetryMillis = 10
	cfg.PollIntervalMillis = 20
	cfg.MaxWaitSeconds = 2
	return cfg
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := fastTestConfig()
	return newTestStoreWithConfig(t, cfg)
}

func newTestStoreWithConfig(t *testing.T, cfg SystemConfig) *Store {
	t.Helper()
	store, err := NewStore(StoreOptions{
		Root:   t.TempDir(),
		Logger: zerolog.Nop(),
		Config: &cfg,
	})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return store
}

// seedProject creates a project and joins the named members, each with a
// distinct client id.
func seedProject(t *testing.T, store *Store, projectID, creator string, members ...string) {
	t.Helper()
	if _, err := store.CreateProject(CreateProjectRequest{ID: projectID, Creator: creator}); err != nil {
		t.Fatalf("create project %s failed: %v", projectID, err)
	}
	for _, name := range append([]string{creator}, members...) {
		if _, err := store.Join(JoinRequest{ProjectID: projectID, Name: name, ClientID: "client-" + name}); err != nil {
			t.Fatalf("join %s failed: %v", name, err)
		}
	}
}

func TestNewStoreWritesDefaultConfig(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(StoreOptions{Root: root, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if store.Config() != defaultSystemConfig() {
		t.Fatalf("expected default config, got %+v", store.Config())
	}
	if _, err := os.Stat(filepath.Join(root, "system", "config.json")); err != nil {
		t.Fatalf("expected config.json to be written: %v", err)
	}

	// A second open reads the same file back.
	reopened, err := NewStore(StoreOptions{Root: root, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("reopen store failed: %v", err)
	}
	if reopened.Config() != store.Config() {
		t.Fatalf("config changed across reopen: %+v vs %+v", reopened.Config(), store.Config())
	}
}

func TestNewStoreRejectsInvalidConfig(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "system"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	bad := `{"messageTtlSeconds": "tomorrow"}`
	if err := os.WriteFile(filepath.Join(root, "system", "config.json"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := NewStore(StoreOptions{Root: root, Logger: zerolog.Nop()}); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}
}

func TestNewStoreRejectsUnknownConfigKeys(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "system"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	cfg := defaultSystemConfig()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config failed: %v", err)
	}
	var loose map[string]any
	if err := json.Unmarshal(data, &loose); err != nil {
		t.Fatalf("unmarshal config failed: %v", err)
	}
	loose["surpriseKnob"] = 7
	data, err = json.Marshal(loose)
	if err != nil {
		t.Fatalf("marshal config failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "system", "config.json"), data, 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := NewStore(StoreOptions{Root: root, Logger: zerolog.Nop()}); err == nil {
		t.Fatalf("expected unknown config key to be rejected")
	}
}

func TestAuditLogRecordsOperations(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")
	if _, err := store.Send(SendRequest{ProjectID: "proj", Sender: "alice", Recipient: "alice", Payload: "note to self"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	// A failing op must be audited too.
	if _, err := store.GetClientSession("no-such-client"); err == nil {
		t.Fatalf("expected missing client session to fail")
	}

	f, err := os.Open(filepath.Join(store.Root(), "audit.log"))
	if err != nil {
		t.Fatalf("open audit log failed: %v", err)
	}
	defer f.Close()

	seen := map[string]bool{}
	okByOp := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record struct {
			Op      string `json:"op"`
			Project string `json:"project,omitempty"`
			OK      bool   `json:"ok"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("audit line is not valid JSON: %v", err)
		}
		seen[record.Op] = true
		okByOp[record.Op] = record.OK
	}
	for _, op := range []string{"project.create", "member.join", "message.send", "client.status"} {
		if !seen[op] {
			t.Fatalf("expected audit entry for %s, saw %v", op, seen)
		}
	}
	if okByOp["client.status"] {
		t.Fatalf("expected client.status audit entry to record failure")
	}
	if !okByOp["message.send"] {
		t.Fatalf("expected message.send audit entry to record success")
	}
}
