// Package paths provides default filesystem locations for captiond.
package paths

import (
	"os"
	"path/filepath"
)

// DefaultModelsDir returns the default directory for model artifacts:
// ~/.captiond/models, falling back to ./models if the home directory
// cannot be determined.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.FromSlash("./models")
	}
	return filepath.Join(home, ".captiond", "models")
}
