// Package modelseed loads the model catalog from a YAML file at boot,
// grounded on the teacher's ragseed.SeedFile path-safety and
// read-then-unmarshal convention, adapted from Qdrant point upserts to
// domain.ModelRepository rows.
package modelseed

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

type seedYAML struct {
	Models []seedModel `yaml:"models"`
}

type seedModel struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Cost        int64  `yaml:"cost"`
	Active      bool   `yaml:"active"`
}

// LoadFile reads and parses the model seed YAML at path, constrained to the
// current working directory the same way the teacher's SeedFile guards
// against path traversal on an operator-supplied file.
func LoadFile(path string) ([]domain.Model, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=modelseed.load_file: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("op=modelseed.load_file: %w", err)
	}
	abs = filepath.Clean(abs)
	wd = filepath.Clean(wd)
	if !strings.HasPrefix(abs, wd+string(os.PathSeparator)) && abs != wd {
		return nil, fmt.Errorf("op=modelseed.load_file: disallowed path %s", path)
	}

	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("op=modelseed.load_file path=%s: %w", path, err)
	}
	var doc seedYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("op=modelseed.load_file path=%s: %w", path, err)
	}

	out := make([]domain.Model, 0, len(doc.Models))
	for _, m := range doc.Models {
		out = append(out, domain.Model{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			Cost:        m.Cost,
			Active:      m.Active,
		})
	}
	return out, nil
}

// LoadAndSeed loads path and upserts every row into repo. A missing seed
// file is not an error: nothing is upserted and the catalog keeps the rows
// it already has.
func LoadAndSeed(ctx domain.Context, path string, repo domain.ModelRepository) error {
	models, err := LoadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(models) == 0 {
		return nil
	}
	type seeder interface {
		UpsertSeed(ctx domain.Context, models []domain.Model) error
	}
	s, ok := repo.(seeder)
	if !ok {
		return fmt.Errorf("op=modelseed.load_and_seed: %T does not support seeding", repo)
	}
	return s.UpsertSeed(ctx, models)
}
