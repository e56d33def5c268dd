package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path within the workspace root.
// Beyond the lexical `..` check, it also follows symlinks (on the target
// itself, or its nearest existing ancestor for paths that don't exist yet,
// such as a write target) so a symlink planted inside the workspace can't
// be used to read or write outside it.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if escapes(rootAbs, targetAbs) {
		return "", fmt.Errorf("path escapes workspace")
	}
	if err := r.checkSymlinkEscape(rootAbs, targetAbs); err != nil {
		return "", err
	}
	return targetAbs, nil
}

func escapes(rootAbs, targetAbs string) bool {
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// checkSymlinkEscape resolves symlinks along targetAbs (or, if targetAbs
// doesn't exist yet, along its nearest existing ancestor) and rejects the
// path if the resolved location falls outside the resolved workspace root.
func (r Resolver) checkSymlinkEscape(rootAbs, targetAbs string) error {
	resolvedRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		// Workspace root itself doesn't exist yet (first write into a
		// fresh workspace); nothing to resolve against.
		return nil
	}

	resolved, err := nearestResolvableAncestor(targetAbs)
	if err != nil {
		return nil
	}

	if escapes(resolvedRoot, resolved) {
		return fmt.Errorf("path escapes workspace via symlink")
	}
	return nil
}

// nearestResolvableAncestor walks up from path until EvalSymlinks succeeds,
// then rejoins the unresolved suffix onto the resolved ancestor.
func nearestResolvableAncestor(path string) (string, error) {
	suffix := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if suffix == "" {
				return resolved, nil
			}
			return filepath.Join(resolved, suffix), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(current), suffix)
		current = parent
	}
}
