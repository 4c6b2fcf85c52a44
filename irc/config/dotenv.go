package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is the file name LoadEnvTree looks for
const DefaultEnvFile = ".env"

// LoadEnvTree loads every file called name found in the working directory
// and its parents, nearest first. Variables already set in the environment,
// or set by a nearer file, win. It returns the files loaded.
func LoadEnvTree(name string) ([]string, error) {
	if name == "" {
		name = DefaultEnvFile
	}

	envFiles, err := FindEnvFiles(name)
	if err != nil {
		return nil, err
	}

	if len(envFiles) == 0 {
		return nil, nil
	}

	if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	return envFiles, nil
}

// FindEnvFiles returns the paths of files called name from the working
// directory up to the filesystem root, nearest first.
func FindEnvFiles(name string) ([]string, error) {
	var envFiles []string

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		envPath := filepath.Join(cwd, name)
		if info, err := os.Stat(envPath); err == nil && !info.IsDir() {
			envFiles = append(envFiles, envPath)
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return envFiles, nil
}
