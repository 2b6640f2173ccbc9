package app

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for workspace operations. Tool handlers match on these to
// phrase user-facing failures; none of them ever aborts a session.
var (
	ErrNoWorkspace      = errors.New("workspace is not set")
	ErrEscapesWorkspace = errors.New("path resolves outside the workspace")
	ErrBinaryContent    = errors.New("file appears to be binary")
	ErrNotRegularFile   = errors.New("not a regular file")
)

// Workspace sandboxes every file operation under one canonical root directory.
// The root is absolute with symlinks resolved and never changes for the
// lifetime of the value; switching directories means building a new Workspace
// (and, at the session level, a fresh chat history).
type Workspace struct {
	root string
}

// NewWorkspace canonicalizes dir and returns a sandbox rooted there.
func NewWorkspace(dir string) (*Workspace, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrNoWorkspace
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &Workspace{root: root}, nil
}

// Root returns the canonical workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve maps a workspace-relative path to an absolute one, following
// symlinks and normalizing "." and ".." segments, then verifies the result
// still lives under the root. Paths that do not exist yet (write targets)
// canonicalize through their nearest existing ancestor.
func (w *Workspace) Resolve(rel string) (string, error) {
	candidate := rel
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(w.root, rel)
	}
	resolved, err := resolveThroughAncestor(filepath.Clean(candidate))
	if err != nil {
		return "", err
	}
	if resolved != w.root && !strings.HasPrefix(resolved, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesWorkspace, rel)
	}
	return resolved, nil
}

// resolveThroughAncestor follows symlinks on the longest existing prefix of
// path and rejoins the non-existent remainder, mirroring realpath semantics
// for paths that are about to be created.
func resolveThroughAncestor(path string) (string, error) {
	dir := path
	suffix := ""
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(dir), suffix)
		dir = parent
	}
}

// ListFiles returns the entries directly under rel in name order, skipping
// dotfiles, with directories suffixed by "/".
func (w *Workspace) ListFiles(rel string) ([]string, error) {
	abs, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.IsDir() {
			names = append(names, entry.Name()+"/")
		} else {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// ReadFile returns the file content as text. Content that does not decode as
// UTF-8 is refused with ErrBinaryContent rather than returned corrupted.
func (w *Workspace) ReadFile(rel string) (string, error) {
	abs, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s", ErrBinaryContent, rel)
	}
	return string(data), nil
}

// WriteFile writes content to rel, creating missing parent directories.
func (w *Workspace) WriteFile(rel, content string) error {
	abs, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// CreateDirectory creates rel and any missing parents.
func (w *Workspace) CreateDirectory(rel string) error {
	abs, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}

// DeleteFile removes rel. Only regular files are deletable; directories must
// be managed outside the tool surface.
func (w *Workspace) DeleteFile(rel string) error {
	abs, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, rel)
	}
	return os.Remove(abs)
}

// WorkspaceScan is the result of an ignore-aware recursive walk.
type WorkspaceScan struct {
	TextFiles       []string
	SkippedBinaries []string
}

var (
	defaultFileIgnores = []string{".git", ".*.swp", ".DS_Store", "*.pyc", "*~", ".env", "venv", "__pycache__"}
	defaultDirIgnores  = []string{".git", "__pycache__", ".vscode", ".idea", "node_modules", "build", "dist", "venv", "env"}
)

// Scan recursively collects workspace-relative paths of all text files,
// honoring default ignore patterns plus any from a top-level .agentignore
// (one glob per line, "#" comments, trailing "/" marks a directory pattern).
// Files whose first KiB contains a NUL byte are classified binary and skipped.
func (w *Workspace) Scan() (WorkspaceScan, error) {
	fileIgnores := append([]string(nil), defaultFileIgnores...)
	dirIgnores := append([]string(nil), defaultDirIgnores...)

	if file, err := os.Open(filepath.Join(w.root, ".agentignore")); err == nil {
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if strings.HasSuffix(line, "/") {
				dirIgnores = append(dirIgnores, strings.TrimRight(line, "/"))
			} else {
				fileIgnores = append(fileIgnores, line)
			}
		}
		file.Close()
	}

	var scan WorkspaceScan
	err := filepath.WalkDir(w.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if path != w.root && matchesAny(entry.Name(), dirIgnores) {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAny(entry.Name(), fileIgnores) {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if isBinaryFile(path) {
			scan.SkippedBinaries = append(scan.SkippedBinaries, rel)
		} else {
			scan.TextFiles = append(scan.TextFiles, rel)
		}
		return nil
	})
	if err != nil {
		return WorkspaceScan{}, err
	}
	sort.Strings(scan.TextFiles)
	sort.Strings(scan.SkippedBinaries)
	return scan, nil
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()
	buf := make([]byte, 1024)
	n, _ := file.Read(buf)
	for _, b := range buf[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}
