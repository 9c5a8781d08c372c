package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

func LoadDotEnvFromDir(dir string) error {
	return LoadDotEnv(filepath.Join(dir, ".env"))
}

// LoadDotEnv sets KEY=value pairs from path. Variables already present in the
// environment win; a missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, strings.Trim(strings.TrimSpace(val), `"'`))
	}
	return scanner.Err()
}
