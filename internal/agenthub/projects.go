package agenthub

import (
	"context"
	"os"
	"sort"
	"time"
)

// Project is a named workspace. The id is immutable and globally unique;
// creation is check-and-create so two concurrent creators cannot both
// succeed.
type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	CreatedBy     string `json:"createdBy"`
	CreatedAt     string `json:"createdAt"`
	Archived      bool   `json:"archived,omitempty"`
	ArchivedAt    string `json:"archivedAt,omitempty"`
	ArchivedBy    string `json:"archivedBy,omitempty"`
	ArchiveReason string `json:"archiveReason,omitempty"`
}

type CreateProjectRequest struct {
	ID          string
	Name        string
	Description string
	Creator     string
}

func (s *Store) CreateProject(req CreateProjectRequest) (Project, error) {
	project, err := s.createProject(req)
	s.audit("project.create", req.ID, req.Creator, err)
	return project, err
}

func (s *Store) createProject(req CreateProjectRequest) (Project, error) {
	if err := ValidateIdentifier(req.ID, "project_id"); err != nil {
		return Project{}, err
	}
	if err := ValidateIdentifier(req.Creator, "creator"); err != nil {
		return Project{}, err
	}
	name := req.Name
	if name == "" {
		name = req.ID
	}

	// Mkdir is the atomic check-and-create: the loser of a race gets EEXIST.
	if err := os.Mkdir(s.paths.projectDir(req.ID), 0o755); err != nil {
		if os.IsExist(err) {
			return Project{}, conflictError(CodeProjectExists, "project id already exists")
		}
		return Project{}, err
	}

	project := Project{
		ID:          req.ID,
		Name:        name,
		Description: req.Description,
		CreatedBy:   req.Creator,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := atomicWriteJSON(s.paths.projectFile(req.ID), project); err != nil {
		return Project{}, err
	}
	for _, dir := range []string{
		s.paths.membersDir(req.ID),
		s.paths.messagesDir(req.ID),
		s.paths.resourcesDir(req.ID),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Project{}, err
		}
	}
	s.logger.Info().Str("project", req.ID).Str("creator", req.Creator).Msg("project created")
	return project, nil
}

func (s *Store) GetProject(projectID string) (Project, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return Project{}, err
	}
	return s.loadProject(projectID)
}

func (s *Store) loadProject(projectID string) (Project, error) {
	var project Project
	err := readJSON(s.paths.projectFile(projectID), &project)
	if err == os.ErrNotExist {
		return Project{}, notFoundError(CodeProjectNotFound, "project does not exist")
	}
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

// AwaitProject blocks until the project exists or the timeout elapses.
// ok=false with a nil error means the wait timed out.
func (s *Store) AwaitProject(ctx context.Context, projectID string, timeout time.Duration) (Project, bool, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return Project{}, false, err
	}
	var project Project
	ok, err := s.waiters.await(ctx, "project:"+projectID, s.paths.projectsDir(), timeout, func() (bool, error) {
		p, err := s.loadProject(projectID)
		if err != nil {
			return false, err
		}
		project = p
		return true, nil
	})
	if err != nil || !ok {
		return Project{}, false, err
	}
	return project, true, nil
}

func (s *Store) ListProjects() ([]Project, error) {
	entries, err := os.ReadDir(s.paths.projectsDir())
	if err != nil {
		return nil, err
	}
	projects := make([]Project, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		project, err := s.loadProject(entry.Name())
		if err != nil {
			// Half-created or corrupt entries are skipped, not fatal.
			if _, ok := CallerError(err); ok {
				continue
			}
			s.logger.Warn().Err(err).Str("project", entry.Name()).Msg("skipping unreadable project metadata")
			continue
		}
		projects = append(projects, project)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// ArchiveProject soft-archives a project. Creator-only; archived projects
// refuse joins and sends but still answer reads, and the flag is reversible.
func (s *Store) ArchiveProject(projectID, caller, reason string) (Project, error) {
	project, err := s.setArchived(projectID, caller, reason, true)
	s.audit("project.archive", projectID, caller, err)
	return project, err
}

func (s *Store) UnarchiveProject(projectID, caller string) (Project, error) {
	project, err := s.setArchived(projectID, caller, "", false)
	s.audit("project.unarchive", projectID, caller, err)
	return project, err
}

func (s *Store) setArchived(projectID, caller, reason string, archived bool) (Project, error) {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return Project{}, err
	}
	if err := ValidateIdentifier(caller, "caller"); err != nil {
		return Project{}, err
	}
	release, err := s.locks.acquire("project__"+projectID, lockOptions{Reason: "project archive flag"})
	if err != nil {
		return Project{}, err
	}
	defer release()

	project, err := s.loadProject(projectID)
	if err != nil {
		return Project{}, err
	}
	if project.CreatedBy != caller {
		return Project{}, permissionError(CodeNotCreator, "only the project creator may archive or unarchive it")
	}
	project.Archived = archived
	if archived {
		project.ArchivedAt = time.Now().UTC().Format(time.RFC3339Nano)
		project.ArchivedBy = caller
		project.ArchiveReason = reason
	} else {
		project.ArchivedAt = ""
		project.ArchivedBy = ""
		project.ArchiveReason = ""
	}
	if err := atomicWriteJSON(s.paths.projectFile(projectID), project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// DeleteProject removes a project recursively and irreversibly, then scrubs
// its membership tuples from every client session. Creator-only.
func (s *Store) DeleteProject(projectID, caller string) error {
	err := s.deleteProject(projectID, caller)
	s.audit("project.delete", projectID, caller, err)
	return err
}

func (s *Store) deleteProject(projectID, caller string) error {
	if err := ValidateIdentifier(projectID, "project_id"); err != nil {
		return err
	}
	if err := ValidateIdentifier(caller, "caller"); err != nil {
		return err
	}
	release, err := s.locks.acquire("project__"+projectID, lockOptions{Reason: "project delete"})
	if err != nil {
		return err
	}
	defer release()

	project, err := s.loadProject(projectID)
	if err != nil {
		return err
	}
	if project.CreatedBy != caller {
		return permissionError(CodeNotCreator, "only the project creator may delete it")
	}
	if err := os.RemoveAll(s.paths.projectDir(projectID)); err != nil {
		return err
	}
	s.scrubProjectFromClients(projectID)
	s.logger.Info().Str("project", projectID).Str("caller", caller).Msg("project deleted")
	return nil
}

// requireActiveProject loads a project and rejects archived ones, for
// operations that mutate project contents.
func (s *Store) requireActiveProject(projectID string) (Project, error) {
	project, err := s.loadProject(projectID)
	if err != nil {
		return Project{}, err
	}
	if project.Archived {
		return Project{}, conflictError(CodeProjectArchived, "project is archived")
	}
	return project, nil
}
