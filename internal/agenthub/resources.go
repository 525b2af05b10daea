package agenthub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// resourceManifest is the internal record, including the creator. It never
// leaves the engine; callers only ever see a Resource view produced by
// externalView, which is the single, enforced conversion point.
type resourceManifest struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"projectId"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	CreatedBy    string            `json:"createdBy,omitempty"`
	CreatedAt    string            `json:"createdAt"`
	UpdatedAt    string            `json:"updatedAt"`
	Etag         string            `json:"etag"`
	Seq          int64             `json:"seq"`
	MimeType     string            `json:"mimeType,omitempty"`
	SizeBytes    int64             `json:"sizeBytes"`
	ExternalPath string            `json:"externalPath,omitempty"`
	Permissions  Permissions       `json:"permissions"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Resource is the external view: identical to the manifest minus the
// creator, so no caller can learn or spoof who created what.
type Resource struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"projectId"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	CreatedAt    string            `json:"createdAt"`
	UpdatedAt    string            `json:"updatedAt"`
	Etag         string            `json:"etag"`
	MimeType     string            `json:"mimeType,omitempty"`
	SizeBytes    int64             `json:"sizeBytes"`
	ExternalPath string            `json:"externalPath,omitempty"`
	Permissions  Permissions       `json:"permissions"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Permissions lists member names; "*" in Read means any member. Empty lists
// deny everyone except the creator, who always has implicit write (and
// therefore read) access.
type Permissions struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

func externalView(m resourceManifest) Resource {
	return Resource{
		ID:           m.ID,
		ProjectID:    m.ProjectID,
		Name:         m.Name,
		Description:  m.Description,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		Etag:         m.Etag,
		MimeType:     m.MimeType,
		SizeBytes:    m.SizeBytes,
		ExternalPath: m.ExternalPath,
		Permissions:  m.Permissions,
		Metadata:     m.Metadata,
	}
}

// Metadata keys that would collide with internally-managed fields.
var reservedMetadataKeys = []string{"createdBy", "creator", "created_by"}

type PutResourceRequest struct {
	ProjectID   string
	ResourceID  string
	Caller      string
	Name        string
	Description string
	MimeType    string
	// Etag is the version tag the caller last read. Must be empty on create
	// and must equal the stored tag on update.
	Etag         string
	Content      []byte
	ExternalPath string
	Permissions  *Permissions
	Metadata     map[string]string
}

// PutResource creates or updates a versioned document. See the manifest
// rules in the package: optimistic concurrency on the etag, creator-only
// permission changes, inline-xor-external content.
func (s *Store) PutResource(req PutResourceRequest) (Resource, error) {
	resource, err := s.putResource(req)
	s.audit("resource.put", req.ProjectID, req.Caller, err)
	return resource, err
}

func (s *Store) putResource(req PutResourceRequest) (Resource, error) {
	if err := ValidateIdentifier(req.ProjectID, "project_id"); err != nil {
		return Resource{}, err
	}
	if err := ValidateIdentifier(req.ResourceID, "resource_id"); err != nil {
		return Resource{}, err
	}
	if err := ValidateIdentifier(req.Caller, "caller"); err != nil {
		return Resource{}, err
	}
	if len(req.Content) > 0 && req.ExternalPath != "" {
		return Resource{}, validationError(CodeConflictingContent, "specify either inline content or an external file, not both")
	}
	for _, key := range reservedMetadataKeys {
		if _, found := req.Metadata[key]; found {
			return Resource{}, validationError(CodeReservedField, fmt.Sprintf("metadata key %q is managed internally", key))
		}
	}
	if _, err := s.requireActiveProject(req.ProjectID); err != nil {
		return Resource{}, err
	}
	if _, err := s.loadMember(req.ProjectID, req.Caller); err != nil {
		return Resource{}, err
	}

	var externalPath string
	var externalSize int64
	if req.ExternalPath != "" {
		resolved, err := ValidateExternalPath(req.ExternalPath)
		if err != nil {
			return Resource{}, err
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return Resource{}, err
		}
		if info.Size() > s.cfg.MaxResourceBytes {
			return Resource{}, &Error{
				Kind:    KindValidation,
				Code:    CodePayloadTooLarge,
				Message: "external file exceeds the maximum resource size",
				Details: map[string]any{"sizeBytes": info.Size(), "limit": s.cfg.MaxResourceBytes},
			}
		}
		externalPath = resolved
		externalSize = info.Size()
	}
	if len(req.Content) > 0 {
		if int64(len(req.Content)) > s.cfg.MaxInlineBytes {
			return Resource{}, &Error{
				Kind:    KindValidation,
				Code:    CodePayloadTooLarge,
				Message: "inline content exceeds the inline ceiling; store it as an external file instead",
				Details: map[string]any{"sizeBytes": len(req.Content), "limit": s.cfg.MaxInlineBytes},
			}
		}
		if json.Valid(req.Content) {
			if depth := jsonDepth(req.Content); depth > s.cfg.MaxJSONDepth {
				return Resource{}, &Error{
					Kind:    KindValidation,
					Code:    CodeJSONTooDeep,
					Message: "JSON content is nested too deeply",
					Details: map[string]any{"depth": depth, "limit": s.cfg.MaxJSONDepth},
				}
			}
		}
	}

	release, err := s.locks.acquire(resourceLockName(req.ProjectID, req.ResourceID), lockOptions{Reason: "resource put"})
	if err != nil {
		return Resource{}, err
	}
	defer release()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	existing, err := s.loadManifest(req.ProjectID, req.ResourceID)
	switch {
	case err == nil:
		return s.updateResourceLocked(req, existing, externalPath, externalSize, now)
	case isNotFound(err):
		return s.createResourceLocked(req, externalPath, externalSize, now)
	default:
		return Resource{}, err
	}
}

func (s *Store) createResourceLocked(req PutResourceRequest, externalPath string, externalSize int64, now string) (Resource, error) {
	if req.Etag != "" {
		return Resource{}, &Error{
			Kind:    KindConflict,
			Code:    CodeEtagMismatch,
			Message: "version tag supplied but the resource does not exist",
			Details: map[string]any{"supplied": req.Etag},
		}
	}
	perms := Permissions{Read: []string{}, Write: []string{req.Caller}}
	if req.Permissions != nil {
		perms = normalizePermissions(*req.Permissions)
	}
	perms.Write = ensureName(perms.Write, req.Caller)

	manifest := resourceManifest{
		ID:          req.ResourceID,
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.Caller,
		CreatedAt:   now,
		UpdatedAt:   now,
		Seq:         1,
		Etag:        newEtag(1),
		MimeType:    req.MimeType,
		Permissions: perms,
		Metadata:    req.Metadata,
	}
	return s.persistResourceLocked(manifest, req.Content, externalPath, externalSize)
}

func (s *Store) updateResourceLocked(req PutResourceRequest, manifest resourceManifest, externalPath string, externalSize int64, now string) (Resource, error) {
	// Records written before creator tracking get the current caller
	// backfilled as creator.
	if manifest.CreatedBy == "" {
		manifest.CreatedBy = req.Caller
	}
	effectiveWrite := ensureName(manifest.Permissions.Write, manifest.CreatedBy)
	if !nameListed(effectiveWrite, req.Caller) {
		return Resource{}, permissionError(CodeWriteDenied, "caller has no write access to this resource")
	}
	if req.Etag != manifest.Etag {
		return Resource{}, &Error{
			Kind:    KindConflict,
			Code:    CodeEtagMismatch,
			Message: "version tag does not match the stored resource",
			Details: map[string]any{"supplied": req.Etag, "current": manifest.Etag},
		}
	}

	if req.Permissions != nil {
		if req.Caller == manifest.CreatedBy {
			perms := normalizePermissions(*req.Permissions)
			perms.Write = ensureName(perms.Write, manifest.CreatedBy)
			manifest.Permissions = perms
		}
		// Non-creators cannot change permissions; their writes silently
		// keep the previous set.
	}

	if req.Name != "" {
		manifest.Name = req.Name
	}
	if req.Description != "" {
		manifest.Description = req.Description
	}
	if req.Metadata != nil {
		manifest.Metadata = req.Metadata
	}
	if req.MimeType != "" {
		manifest.MimeType = req.MimeType
	}

	manifest.Seq++
	manifest.Etag = newEtag(manifest.Seq)
	manifest.UpdatedAt = now

	if len(req.Content) == 0 && externalPath == "" {
		// Metadata-only update: storage-managed fields stay untouched.
		if err := atomicWriteJSON(s.paths.manifestFile(manifest.ProjectID, manifest.ID), manifest); err != nil {
			return Resource{}, err
		}
		return externalView(manifest), nil
	}
	return s.persistResourceLocked(manifest, req.Content, externalPath, externalSize)
}

func (s *Store) persistResourceLocked(manifest resourceManifest, content []byte, externalPath string, externalSize int64) (Resource, error) {
	switch {
	case externalPath != "":
		manifest.ExternalPath = externalPath
		manifest.SizeBytes = externalSize
	case len(content) > 0:
		manifest.ExternalPath = ""
		manifest.SizeBytes = int64(len(content))
	}
	if len(content) > 0 {
		if err := atomicWrite(s.paths.payloadFile(manifest.ProjectID, manifest.ID), content); err != nil {
			return Resource{}, err
		}
	} else if externalPath != "" {
		// Switching to an external reference retires any stale inline copy.
		if err := os.Remove(s.paths.payloadFile(manifest.ProjectID, manifest.ID)); err != nil && !os.IsNotExist(err) {
			return Resource{}, err
		}
	}
	if err := atomicWriteJSON(s.paths.manifestFile(manifest.ProjectID, manifest.ID), manifest); err != nil {
		return Resource{}, err
	}
	return externalView(manifest), nil
}

// GetResource returns the external view and, for inline resources, the
// payload bytes. Deny by default: a missing read grant surfaces as a
// permission error, deliberately distinguishable from not-found.
func (s *Store) GetResource(projectID, resourceID, caller string) (Resource, []byte, error) {
	resource, content, err := s.getResource(projectID, resourceID, caller)
	s.audit("resource.get", projectID, caller, err)
	return resource, content, err
}

func (s *Store) getResource(projectID, resourceID, caller string) (Resource, []byte, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return Resource{}, nil, err
	}
	if err := ValidateIdentifier(resourceID, "resource_id"); err != nil {
		return Resource{}, nil, err
	}
	if err := ValidateIdentifier(caller, "caller"); err != nil {
		return Resource{}, nil, err
	}
	if _, err := s.loadProject(projectID); err != nil {
		return Resource{}, nil, err
	}
	if _, err := s.loadMember(projectID, caller); err != nil {
		return Resource{}, nil, err
	}
	manifest, err := s.loadManifest(projectID, resourceID)
	if err != nil {
		return Resource{}, nil, err
	}
	if !canRead(manifest, caller) {
		return Resource{}, nil, permissionError(CodeReadDenied, "caller has no read access to this resource")
	}

	var content []byte
	if manifest.ExternalPath == "" {
		data, err := os.ReadFile(s.paths.payloadFile(projectID, resourceID))
		if err != nil && !os.IsNotExist(err) {
			return Resource{}, nil, err
		}
		content = data
	}
	return externalView(manifest), content, nil
}

// AwaitResource blocks until the resource exists and is readable by the
// caller, or the timeout elapses. Permission failures short-circuit.
func (s *Store) AwaitResource(ctx context.Context, projectID, resourceID, caller string, timeout time.Duration) (Resource, []byte, bool, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return Resource{}, nil, false, err
	}
	if err := ValidateIdentifier(resourceID, "resource_id"); err != nil {
		return Resource{}, nil, false, err
	}
	var (
		resource Resource
		content  []byte
	)
	key := "resource:" + projectID + ":" + resourceID
	ok, err := s.waiters.await(ctx, key, s.paths.resourcesDir(projectID), timeout, func() (bool, error) {
		r, c, err := s.getResource(projectID, resourceID, caller)
		if err != nil {
			return false, err
		}
		resource, content = r, c
		return true, nil
	})
	if err != nil || !ok {
		return Resource{}, nil, false, err
	}
	return resource, content, true, nil
}

// ListResources returns every resource the caller may read, silently
// skipping the rest.
func (s *Store) ListResources(projectID, caller string) ([]Resource, error) {
	resources, err := s.listResources(projectID, caller)
	s.audit("resource.list", projectID, caller, err)
	return resources, err
}

func (s *Store) listResources(projectID, caller string) ([]Resource, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(caller, "caller"); err != nil {
		return nil, err
	}
	if _, err := s.loadProject(projectID); err != nil {
		return nil, err
	}
	if _, err := s.loadMember(projectID, caller); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.paths.resourcesDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Resource{}, nil
		}
		return nil, err
	}
	resources := make([]Resource, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := s.loadManifest(projectID, entry.Name())
		if err != nil {
			if _, ok := CallerError(err); !ok {
				s.logger.Warn().Err(err).Str("resource", entry.Name()).Msg("skipping unreadable resource manifest")
			}
			continue
		}
		if !canRead(manifest, caller) {
			continue
		}
		resources = append(resources, externalView(manifest))
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	return resources, nil
}

// DeleteResource is creator-only. Legacy records without a recorded creator
// fall back to write-permission holders.
func (s *Store) DeleteResource(projectID, resourceID, caller string) error {
	err := s.deleteResource(projectID, resourceID, caller)
	s.audit("resource.delete", projectID, caller, err)
	return err
}

func (s *Store) deleteResource(projectID, resourceID, caller string) error {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return err
	}
	if err := ValidateIdentifier(resourceID, "resource_id"); err != nil {
		return err
	}
	if err := ValidateIdentifier(caller, "caller"); err != nil {
		return err
	}
	if _, err := s.requireActiveProject(projectID); err != nil {
		return err
	}
	if _, err := s.loadMember(projectID, caller); err != nil {
		return err
	}

	release, err := s.locks.acquire(resourceLockName(projectID, resourceID), lockOptions{Reason: "resource delete"})
	if err != nil {
		return err
	}
	defer release()

	manifest, err := s.loadManifest(projectID, resourceID)
	if err != nil {
		return err
	}
	if manifest.CreatedBy != "" {
		if manifest.CreatedBy != caller {
			return permissionError(CodeDeleteDenied, "only the resource creator may delete it")
		}
	} else if !nameListed(manifest.Permissions.Write, caller) {
		return permissionError(CodeDeleteDenied, "caller has no write access to this legacy resource")
	}
	return os.RemoveAll(s.paths.resourceDir(projectID, resourceID))
}

func (s *Store) loadManifest(projectID, resourceID string) (resourceManifest, error) {
	var manifest resourceManifest
	err := readJSON(s.paths.manifestFile(projectID, resourceID), &manifest)
	if err == os.ErrNotExist {
		return resourceManifest{}, notFoundError(CodeResourceNotFound, "resource does not exist")
	}
	if err != nil {
		return resourceManifest{}, err
	}
	return manifest, nil
}

func canRead(m resourceManifest, caller string) bool {
	if m.CreatedBy != "" && m.CreatedBy == caller {
		return true
	}
	for _, name := range m.Permissions.Read {
		if name == "*" || name == caller {
			return true
		}
	}
	// Write access implies read: a writer must be able to read back what it
	// is about to modify.
	return nameListed(m.Permissions.Write, caller)
}

func nameListed(names []string, target string) bool {
	for _, name := range names {
		if name == target {
			return true
		}
	}
	return false
}

func ensureName(names []string, target string) []string {
	if nameListed(names, target) {
		return names
	}
	out := make([]string, 0, len(names)+1)
	out = append(out, names...)
	return append(out, target)
}

func normalizePermissions(p Permissions) Permissions {
	out := Permissions{Read: []string{}, Write: []string{}}
	for _, name := range p.Read {
		name = strings.TrimSpace(name)
		if name == "" || nameListed(out.Read, name) {
			continue
		}
		out.Read = append(out.Read, name)
	}
	for _, name := range p.Write {
		name = strings.TrimSpace(name)
		if name == "" || nameListed(out.Write, name) {
			continue
		}
		out.Write = append(out.Write, name)
	}
	return out
}

// newEtag issues an opaque version tag. The embedded sequence makes tags
// from successive writes strictly ordered; the random suffix keeps them
// unguessable.
func newEtag(seq int64) string {
	return fmt.Sprintf("rev_%d_%s", seq, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// jsonDepth measures nesting of already-validated JSON by walking the token
// structure, guarding against deeply-nested payloads.
func jsonDepth(data []byte) int {
	depth, deepest := 0, 0
	inString := false
	escaped := false
	for _, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > deepest {
				deepest = depth
			}
		case '}', ']':
			depth--
		}
	}
	return deepest
}
