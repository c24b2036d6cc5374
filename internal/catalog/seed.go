package catalog

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"support-agent/internal/domain"
)

type seedFile struct {
	Products []seedProduct `toml:"products"`
}

type seedProduct struct {
	Name  string  `toml:"name"`
	Price float64 `toml:"price"`
	Image string  `toml:"image"`
}

// LoadSeedFile reads a TOML catalog file of [[products]] tables.
func LoadSeedFile(path string) ([]domain.CatalogEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read seed file: %w", err)
	}
	return parseSeed(raw)
}

func parseSeed(raw []byte) ([]domain.CatalogEntry, error) {
	var f seedFile
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode seed file: %w", err)
	}
	entries := make([]domain.CatalogEntry, 0, len(f.Products))
	for i, p := range f.Products {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("catalog: product %d: name is required", i)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("catalog: product %q: price must not be negative", name)
		}
		entries = append(entries, domain.CatalogEntry{
			Name:  name,
			Price: p.Price,
			Image: strings.TrimSpace(p.Image),
		})
	}
	return entries, nil
}
