//go:build integration

package itest

import (
	"fmt"
	"os"
	"path/filepath"
)

const mainPkg = "cmd/reelplan"

// moduleRoot walks up from the test's working directory to the directory
// holding both go.mod and the CLI's main package.
func moduleRoot() (string, error) {
	start, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for dir := start; ; {
		if isModuleRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s above %s", mainPkg, start)
		}
		dir = parent
	}
}

func isModuleRoot(dir string) bool {
	for _, rel := range []string{"go.mod", filepath.FromSlash(mainPkg)} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			return false
		}
	}
	return true
}
