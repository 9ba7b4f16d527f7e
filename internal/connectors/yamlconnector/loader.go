package yamlconnector

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromDir loads every enabled *.yaml/*.yml source declared in dirPath.
// A missing directory yields nothing. Broken files and repeated keys are
// reported together while the valid sources are still returned.
func LoadFromDir(dirPath string, client *http.Client) ([]*Connector, error) {
	dirPath = strings.TrimSpace(dirPath)
	if dirPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(dirPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read yaml connectors dir: %w", err)
	}

	files, err := declarationFiles(dirPath)
	if err != nil {
		return nil, err
	}

	loaded := make([]*Connector, 0, len(files))
	seen := make(map[string]string, len(files))
	var errs []error
	for _, filePath := range files {
		name := filepath.Base(filePath)
		connector, err := loadFile(filePath, client)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if connector == nil {
			continue
		}
		if first, dup := seen[connector.Key()]; dup {
			errs = append(errs, fmt.Errorf("%s: key %q already declared in %s", name, connector.Key(), first))
			continue
		}
		seen[connector.Key()] = name
		loaded = append(loaded, connector)
	}

	if len(errs) > 0 {
		return loaded, fmt.Errorf("yaml connectors failed to load: %w", errors.Join(errs...))
	}
	return loaded, nil
}

func declarationFiles(dirPath string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dirPath, pattern))
		if err != nil {
			return nil, fmt.Errorf("list yaml connectors: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// loadFile returns nil for a disabled source.
func loadFile(filePath string, client *http.Client) (*Connector, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, err
	}
	if !cfg.isEnabled() {
		return nil, nil
	}
	return NewConnector(cfg, client)
}
