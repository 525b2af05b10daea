package agenthub

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// atomicWrite funnels every mutation in the engine. It writes to a
// uniquely-named temp file in the destination directory, forces the bytes to
// disk and renames onto the destination, so a reader can never observe a
// partial file. A crash mid-write leaves at worst an orphaned temp file.
func atomicWrite(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	// Rename durability needs the parent directory flushed too. Failure here
	// is not observable by readers, so it is ignored.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func atomicWriteJSON(dest string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(dest, append(data, '\n'))
}

// readJSON distinguishes "absent" (ErrNotFound sentinel wrapped by callers)
// from "present but corrupt", which is a system fault.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return err
	}
	return json.Unmarshal(data, v)
}
