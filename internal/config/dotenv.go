package config

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads the first .env found in the given directories (or the
// working directory and its parent when none are given). Existing env vars
// win. A missing file is not an error; the loaded path is returned.
func LoadDotEnv(dirs ...string) (string, error) {
	if len(dirs) == 0 {
		dirs = []string{".", ".."}
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, ".env")
		err := godotenv.Load(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", nil
}
