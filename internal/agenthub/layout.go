package agenthub

import "path/filepath"

// On-disk layout. Stable; external tooling depends on these paths.
//
//	<root>/projects/<project-id>/project.json
//	<root>/projects/<project-id>/members/<name>.json
//	<root>/projects/<project-id>/messages/<member>/<20-digit-nanos>_<uuid>.json
//	<root>/projects/<project-id>/messages/<member>/archive/
//	<root>/projects/<project-id>/resources/<resource-id>/manifest.json
//	<root>/projects/<project-id>/resources/<resource-id>/payload/data
//	<root>/locks/<name>.lock
//	<root>/clients/<client-id>/client.json
//	<root>/system/config.json
//	<root>/audit.log

const (
	projectsDirName  = "projects"
	membersDirName   = "members"
	messagesDirName  = "messages"
	archiveDirName   = "archive"
	resourcesDirName = "resources"
	payloadDirName   = "payload"
	payloadFileName  = "data"
	locksDirName     = "locks"
	clientsDirName   = "clients"
	systemDirName    = "system"
	configFileName   = "config.json"
	auditFileName    = "audit.log"
	projectFileName  = "project.json"
	clientFileName   = "client.json"
	manifestFileName = "manifest.json"
)

type layout struct {
	root string
}

func (l layout) projectsDir() string {
	return filepath.Join(l.root, projectsDirName)
}

func (l layout) projectDir(projectID string) string {
	return filepath.Join(l.root, projectsDirName, projectID)
}

func (l layout) projectFile(projectID string) string {
	return filepath.Join(l.projectDir(projectID), projectFileName)
}

func (l layout) membersDir(projectID string) string {
	return filepath.Join(l.projectDir(projectID), membersDirName)
}

func (l layout) memberFile(projectID, name string) string {
	return filepath.Join(l.membersDir(projectID), name+".json")
}

func (l layout) messagesDir(projectID string) string {
	return filepath.Join(l.projectDir(projectID), messagesDirName)
}

func (l layout) inboxDir(projectID, member string) string {
	return filepath.Join(l.messagesDir(projectID), member)
}

func (l layout) inboxArchiveDir(projectID, member string) string {
	return filepath.Join(l.inboxDir(projectID, member), archiveDirName)
}

func (l layout) resourcesDir(projectID string) string {
	return filepath.Join(l.projectDir(projectID), resourcesDirName)
}

func (l layout) resourceDir(projectID, resourceID string) string {
	return filepath.Join(l.resourcesDir(projectID), resourceID)
}

func (l layout) manifestFile(projectID, resourceID string) string {
	return filepath.Join(l.resourceDir(projectID, resourceID), manifestFileName)
}

func (l layout) payloadFile(projectID, resourceID string) string {
	return filepath.Join(l.resourceDir(projectID, resourceID), payloadDirName, payloadFileName)
}

func (l layout) locksDir() string {
	return filepath.Join(l.root, locksDirName)
}

func (l layout) clientsDir() string {
	return filepath.Join(l.root, clientsDirName)
}

func (l layout) clientFile(clientID string) string {
	return filepath.Join(l.clientsDir(), clientID, clientFileName)
}

func (l layout) configFile() string {
	return filepath.Join(l.root, systemDirName, configFileName)
}

func (l layout) auditFile() string {
	return filepath.Join(l.root, auditFileName)
}

// Lock names, scoped per mutable record.

func memberLockName(projectID, name string) string {
	return "member__" + projectID + "__" + name
}

func inboxLockName(projectID, member string) string {
	return "inbox__" + projectID + "__" + member
}

func resourceLockName(projectID, resourceID string) string {
	return "resource__" + projectID + "__" + resourceID
}

func clientLockName(clientID string) string {
	return "client__" + clientID
}

const auditLockName = "audit"
