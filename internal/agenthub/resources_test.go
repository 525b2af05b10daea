package agenthub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func putResource(t *testing.T, store *Store, req PutResourceRequest) Resource {
	t.Helper()
	resource, err := store.PutResource(req)
	if err != nil {
		t.Fatalf("put resource %s failed: %v", req.ResourceID, err)
	}
	return resource
}

func TestPutAndGetResourceRoundtrip(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")

	created := putResource(t, store, PutResourceRequest{
		ProjectID:  "proj",
		ResourceID: "plan",
		Caller:     "alice",
		Name:       "Sprint plan",
		MimeType:   "text/markdown",
		Content:    []byte("# plan\n"),
		Metadata:   map[string]string{"sprint": "14"},
	})
	if !strings.HasPrefix(created.Etag, "rev_1_") {
		t.Fatalf("unexpected etag %q", created.Etag)
	}
	if created.SizeBytes != int64(len("# plan\n")) {
		t.Fatalf("unexpected size %d", created.SizeBytes)
	}
	// Deny by default: no read grants, the creator holds the only write slot.
	if len(created.Permissions.Read) != 0 {
		t.Fatalf("expected empty read list, got %v", created.Permissions.Read)
	}
	if len(created.Permissions.Write) != 1 || created.Permissions.Write[0] != "alice" {
		t.Fatalf("expected creator-only write list, got %v", created.Permissions.Write)
	}

	got, content, err := store.GetResource("proj", "plan", "alice")
	if err != nil {
		t.Fatalf("get resource failed: %v", err)
	}
	if string(content) != "# plan\n" {
		t.Fatalf("payload mismatch: %q", content)
	}
	if got.Etag != created.Etag || got.Metadata["sprint"] != "14" {
		t.Fatalf("unexpected manifest: %+v", got)
	}
}

func TestConcurrentWritersAllApplyWithRetries(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")
	putResource(t, store, PutResourceRequest{
		ProjectID:  "proj",
		ResourceID: "counter",
		Caller:     "alice",
		Content:    []byte("start"),
	})

	// Each writer re-reads the current tag and retries on Conflict, so every
	// write eventually lands and the tag advances once per applied write.
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				current, _, err := store.GetResource("proj", "counter", "alice")
				if err != nil {
					errs <- err
					return
				}
				_, err = store.PutResource(PutResourceRequest{
					ProjectID:  "proj",
					ResourceID: "counter",
					Caller:     "alice",
					Etag:       current.Etag,
					Content:    []byte(fmt.Sprintf("writer-%d", i)),
				})
				if err == nil {
					return
				}
				if !errors.Is(err, ErrConflict) {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("writer failed: %v", err)
	}

	final, _, err := store.GetResource("proj", "counter", "alice")
	if err != nil {
		t.Fatalf("final read failed: %v", err)
	}
	want := fmt.Sprintf("rev_%d_", writers+1)
	if !strings.HasPrefix(final.Etag, want) {
		t.Fatalf("expected etag prefix %s after %d applied writes, got %s", want, writers, final.Etag)
	}
}

func TestPutWithEtagOnCreateConflict(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")
	_, err := store.PutResource(PutResourceRequest{
		ProjectID:  "proj",
		ResourceID: "plan",
		Caller:     "alice",
		Etag:       "rev_1_deadbeef",
		Content:    []byte("x"),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for etag on create, got %v", err)
	}
	if e, _ := CallerError(err); e.Code != CodeEtagMismatch {
		t.Fatalf("expected %s, got %v", CodeEtagMismatch, err)
	}
}

func TestUpdateRequiresMatchingEtag(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")
	created := putResource(t, store, PutResourceRequest{ProjectID: "proj", ResourceID: "plan", Caller: "alice", Content: []byte("v1")})

	// A blind write (no etag) against an existing resource must lose.
	_, err := store.PutResource(PutResourceRequest{ProjectID: "proj", ResourceID: "plan", Caller: "alice", Content: []byte("blind")})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for missing etag, got %v", err)
	}

	updated, err := store.PutResource(PutResourceRequest{ProjectID: "proj", ResourceID: "plan", Caller: "alice", Etag: created.Etag, Content: []byte("v2")})
	if err != nil {
		t.Fatalf("update with matching etag failed: %v", err)
	}
	if updated.Etag == created.Etag {
		t.Fatalf("expected a new etag after update")
	}
	if !strings.HasPrefix(updated.Etag, "rev_2_") {
		t.Fatalf("expected sequence to advance, got %q", updated.Etag)
	}

	// The first writer's etag is now stale.
	_, err = store.PutResource(PutResourceRequest{ProjectID: "proj", ResourceID: "plan", Caller: "alice", Etag: created.Etag, Content: []byte("stale")})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for stale etag, got %v", err)
	}
	e, _ := CallerError(err)
	if e.Details["supplied"] != created.Etag || e.Details["current"] != updated.Etag {
		t.Fatalf("expected etag details, got %v", e.Details)
	}

	_, content, err := store.GetResource("proj", "plan", "alice")
	if err != nil {
		t.Fatalf("get resource failed: %v", err)
	}
	if string(content) != "v2" {
		t.Fatalf("stale write must not land, payload is %q", content)
	}
}

func TestReadDeniedByDefault(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice", "bob")
	putResource(t, store, PutResourceRequest{ProjectID: "proj", ResourceID: "secret", Caller: "alice", Content: []byte("hidden")})

	_, _, err := store.GetResource("proj", "secret", "bob")
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	// Deliberately a permission failure, not a not-found: the caller learns
	// the resource exists but may not read it.
	if e, _ := CallerError(err); e.Code != CodeReadDenied {
		t.Fatalf("expected %s, got %v", CodeReadDenied, err)
	}
}

func TestWildcardReadGrant(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice", "bob", "carol")
	putResource(t, store, PutResourceRequest{
		ProjectID:   "proj",
		ResourceID:  "notes",
		Caller:      "alice",
		Content:     []byte("for everyone"),
		Permissions: &Permissions{Read: []string{"*"}},
	})

	for _, member := range []string{"bob", "carol"} {
		if _, _, err := store.GetResource("proj", "notes", member); err != nil {
			t.Fatalf("expected wildcard read for %s: %v", member, err)
		}
	}
	// Read does not imply write.
	resource, _, _ := store.GetResource("proj", "notes", "bob")
	_, err := store.PutResource(PutResourceRequest{ProjectID: "proj", ResourceID: "notes", Caller: "bob", Etag: resource.Etag, Content: []byte("defaced")})
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected write denied for reader, got %v", err)
	}
	if e, _ := CallerError(err); e.Code != CodeWriteDenied {
		t.Fatalf("expected %s, got %v", CodeWriteDenied, err)
	}
}

func TestWriteGrantImpliesRead(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice", "bob")
	created := putResource(t, store, PutResourceRequest{
		ProjectID:   "proj",
		ResourceID:  "shared",
		Caller:      "alice",
		Content:     []byte("v1"),
		Permissions: &Permissions{Write: []string{"bob"}},
	})

	resource, _, err := store.GetResource("proj", "shared", "bob")
	if err != nil {
		t.Fatalf("expected writer to read: %v", err)
	}
	if resource.Etag != created.Etag {
		t.Fatalf("unexpected etag %q", resource.Etag)
	}
	if _, err := store.PutResource(PutResourceRequest{ProjectID: "proj", ResourceID: "shared", Caller: "bob", Etag: resource.Etag, Content: []byte("v2")}); err != nil {
		t.Fatalf("granted writer update failed: %v", err)
	}
}

func TestNonCreatorCannotChangePermissions(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice", "bob", "carol")
	created := putResource(t, store, PutResourceRequest{
		ProjectID:   "proj",
		ResourceID:  "doc",
		Caller:      "alice",
		Content:     []byte("v1"),
		Permissions: &Permissions{Write: []string{"bob"}},
	})

	// Bob's write lands, but his attempt to open the document to carol is
	// silently dropped.
	updated, err := store.PutResource(PutResourceRequest{
		ProjectID:   "proj",
		ResourceID:  "doc",
		Caller:      "bob",
		Etag:        created.Etag,
		Content:     []byte("v2"),
		Permissions: &Permissions{Read: []string{"carol"}, Write: []string{"bob", "carol"}},
	})
	if err != nil {
		t.Fatalf("granted writer update failed: %v", err)
	}
	if len(updated.Permissions.Read) != 0 {
		t.Fatalf("non-creator permission change must not land, got %v", updated.Permissions)
	}
	if _, _, err := store.GetResource("proj", "doc", "carol"); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected carol still denied, got %v", err)
	}

	// The creator can.
	granted, err := store.PutResource(PutResourceRequest{
		ProjectID:   "proj",
		ResourceID:  "doc",
		Caller:      "alice",
		Etag:        updated.Etag,
		Permissions: &Permissions{Read: []string{"carol"}, Write: []string{"bob"}},
	})
	if err != nil {
		t.Fatalf("creator permission update failed: %v", err)
	}
	if _, _, err := store.GetResource("proj", "doc", "carol"); err != nil {
		t.Fatalf("expected carol granted read: %v", err)
	}
	// The creator keeps implicit write even after rewriting the lists.
	if !nameListed(granted.Permissions.Write, "alice") {
		t.Fatalf("expected creator kept in write list, got %v", granted.Permissions.Write)
	}
}

func TestMetadataOnlyUpdatePreservesPayload(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")
	created := putResource(t, store, PutResourceRequest{ProjectID: "proj", ResourceID: "doc", Caller: "alice", Content: []byte("body")})

	updated, err := store.PutResource(PutResourceRequest{
		ProjectID:  "proj",
		ResourceID: "doc",
		Caller:     "alice",
		Etag:       created.Etag,
		Name:       "renamed",
		Metadata:   map[string]string{"status": "final"},
	})
	if err != nil {
		t.Fatalf("metadata update failed: %v", err)
	}
	if updated.Name != "renamed" || updated.Metadata["status"] != "final" {
		t.Fatalf("metadata update did not land: %+v", updated)
	}
	if updated.SizeBytes != created.SizeBytes {
		t.Fatalf("metadata update must not touch the stored size")
	}
	_, content, err := store.GetResource("proj", "doc", "alice")
	if err != nil {
		t.Fatalf("get resource failed: %v", err)
	}
	if string(content) != "body" {
		t.Fatalf("payload must survive a metadata-only update, got %q", content)
	}
}

func TestResourceValidationRejections(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")

	_, err := store.PutResource(PutResourceRequest{
		ProjectID:    "proj",
		ResourceID:   "doc",
		Caller:       "alice",
		Content:      []byte("inline"),
		ExternalPath: "/home/user/file.txt",
	})
	if e, _ := CallerError(err); e == nil || e.Code != CodeConflictingContent {
		t.Fatalf("expected %s, got %v", CodeConflictingContent, err)
	}

	_, err = store.PutResource(PutResourceRequest{
		ProjectID:  "proj",
		ResourceID: "doc",
		Caller:     "alice",
		Content:    []byte("x"),
		Metadata:   map[string]string{"createdBy": "mallory"},
	})
	if e, _ := CallerError(err); e == nil || e.Code != CodeReservedField {
		t.Fatalf("expected %s, got %v", CodeReservedField, err)
	}
}

func TestInlineContentCeiling(t *testing.T) {
	cfg := fastTestConfig()
	cfg.MaxInlineBytes = 16
	store := newTestStoreWithConfig(t, cfg)
	seedProject(t, store, "proj", "alice")

	_, err := store.PutResource(PutResourceRequest{
		ProjectID:  "proj",
		ResourceID: "big",
		Caller:     "alice",
		Content:    []byte(strings.Repeat("x", 17)),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if e, _ := CallerError(err); e.Code != CodePayloadTooLarge {
		t.Fatalf("expected %s, got %v", CodePayloadTooLarge, err)
	}
}

func TestJSONContentDepthCeiling(t *testing.T) {
	cfg := fastTestConfig()
	cfg.MaxJSONDepth = 3
	store := newTestStoreWithConfig(t, cfg)
	seedProject(t, store, "proj", "alice")

	_, err := store.PutResource(PutResourceRequest{
		ProjectID:  "proj",
		ResourceID: "deep",
		Caller:     "alice",
		Content:    []byte(`[[[[1]]]]`),
	})
	if e, _ := CallerError(err); e == nil || e.Code != CodeJSONTooDeep {
		t.Fatalf("expected %s, got %v", CodeJSONTooDeep, err)
	}

	// Non-JSON content of any shape is fine; the depth guard only applies to
	// valid JSON.
	if _, err := store.PutResource(PutResourceRequest{
		ProjectID:  "proj",
		ResourceID: "prose",
		Caller:     "alice",
		Content:    []byte("[[[[ this is not json"),
	}); err != nil {
		t.Fatalf("expected non-JSON content accepted: %v", err)
	}
}

func TestListResourcesFiltersByReadAccess(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice", "bob")
	putResource(t, store, PutResourceRequest{ProjectID: "proj", ResourceID: "private", Caller: "alice", Content: []byte("a")})
	putResource(t, store, PutResourceRequest{
		ProjectID:   "proj",
		ResourceID:  "public",
		Caller:      "alice",
		Content:     []byte("b"),
		Permissions: &Permissions{Read: []string{"*"}},
	})

	mine, err := store.ListResources("proj", "alice")
	if err != nil {
		t.Fatalf("list as creator failed: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("creator must see both resources, got %+v", mine)
	}

	visible, err := store.ListResources("proj", "bob")
	if err != nil {
		t.Fatalf("list as bob failed: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "public" {
		t.Fatalf("expected only the public resource, got %+v", visible)
	}
}

func TestDeleteResourceCreatorOnly(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice", "bob")
	putResource(t, store, PutResourceRequest{
		ProjectID:   "proj",
		ResourceID:  "doc",
		Caller:      "alice",
		Content:     []byte("x"),
		Permissions: &Permissions{Write: []string{"bob"}},
	})

	// Even a granted writer cannot delete.
	err := store.DeleteResource("proj", "doc", "bob")
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if e, _ := CallerError(err); e.Code != CodeDeleteDenied {
		t.Fatalf("expected %s, got %v", CodeDeleteDenied, err)
	}

	if err := store.DeleteResource("proj", "doc", "alice"); err != nil {
		t.Fatalf("creator delete failed: %v", err)
	}
	if _, _, err := store.GetResource("proj", "doc", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected resource gone, got %v", err)
	}
}

func TestAwaitResourceWakesOnCreate(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")
	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = store.PutResource(PutResourceRequest{ProjectID: "proj", ResourceID: "late", Caller: "alice", Content: []byte("arrived")})
	}()

	resource, content, ok, err := store.AwaitResource(context.Background(), "proj", "late", "alice", 2*time.Second)
	if err != nil {
		t.Fatalf("await resource failed: %v", err)
	}
	if !ok || resource.ID != "late" || string(content) != "arrived" {
		t.Fatalf("expected the created resource, got ok=%v %+v %q", ok, resource, content)
	}
}

func TestAwaitResourcePermissionShortCircuits(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice", "bob")
	putResource(t, store, PutResourceRequest{ProjectID: "proj", ResourceID: "secret", Caller: "alice", Content: []byte("x")})

	start := time.Now()
	_, _, _, err := store.AwaitResource(context.Background(), "proj", "secret", "bob", 2*time.Second)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("permission failure must not wait out the timeout, took %s", elapsed)
	}
}
