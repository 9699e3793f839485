package common

import (
	"os"
	"os/exec"
	"path/filepath"
)

// fallbackDirs are searched when a binary is not on PATH
var fallbackDirs = []string{"/usr/local/bin", "/opt/homebrew/bin", "/usr/bin", "/bin"}

// ResolveBinary returns an executable path for name, or name itself when nothing is found
func ResolveBinary(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	for _, dir := range fallbackDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate
		}
	}
	return name
}
