// Package project resolves the logical project a hook call belongs to and
// derives the namespace that scopes all coordination state for it.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"warden/pkg/protocol"
)

// EnvProjectPath overrides the project root for every command and hook.
const EnvProjectPath = "WARDEN_PROJECT_PATH"

// Project identifies one codebase that workers coordinate on.
type Project struct {
	Root      string // cleaned absolute path
	Namespace string // stable short hash of Root
}

// Resolve picks the project root: WARDEN_PROJECT_PATH, then cwd (the hook's
// working directory), then the process working directory.
func Resolve(cwd string) (Project, error) {
	root := os.Getenv(EnvProjectPath)
	if root == "" {
		root = cwd
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Project{}, err
		}
		root = wd
	}
	return New(root)
}

// New builds a Project for root.
func New(root string) (Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Project{}, err
	}
	abs = filepath.Clean(abs)
	return Project{Root: abs, Namespace: Namespace(abs)}, nil
}

// Namespace hashes an absolute, cleaned path into a fixed-length hex key.
func Namespace(root string) string {
	h := sha256.Sum256([]byte(filepath.Clean(root)))
	return hex.EncodeToString(h[:])[:protocol.NamespaceLen]
}
