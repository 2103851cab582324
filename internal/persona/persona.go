// Package persona holds the investor personas a user can pitch to.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

var ErrUnknownPersona = errors.New("unknown persona")

type Persona struct {
	Key   string `yaml:"key" json:"key"`
	Name  string `yaml:"name" json:"name"`
	Title string `yaml:"title" json:"title"`
	Focus string `yaml:"focus" json:"focus"`
}

// Catalog is an ordered, read-only set of personas with a default.
type Catalog struct {
	defaultKey string
	order      []Persona
	byKey      map[string]Persona
}

type catalogFile struct {
	Default  string    `yaml:"default"`
	Personas []Persona `yaml:"personas"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(embeddedCatalog)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog file; an empty path means the built-in catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse persona catalog: %w", err)
	}
	if len(f.Personas) == 0 {
		return nil, errors.New("persona catalog is empty")
	}
	c := &Catalog{byKey: make(map[string]Persona, len(f.Personas))}
	for _, p := range f.Personas {
		p.Key = normalizeKey(p.Key)
		if p.Key == "" {
			return nil, errors.New("persona catalog entry without key")
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.Key)
		}
		c.byKey[p.Key] = p
		c.order = append(c.order, p)
	}
	c.defaultKey = normalizeKey(f.Default)
	if c.defaultKey == "" {
		c.defaultKey = c.order[0].Key
	}
	if _, ok := c.byKey[c.defaultKey]; !ok {
		return nil, fmt.Errorf("default persona %q is not in the catalog", f.Default)
	}
	return c, nil
}

func (c *Catalog) List() []Persona {
	out := make([]Persona, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) DefaultKey() string { return c.defaultKey }

func (c *Catalog) Get(key string) (Persona, error) {
	p, ok := c.byKey[normalizeKey(key)]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknownPersona, key)
	}
	return p, nil
}

// Resolve maps a user-supplied key to a known persona key: empty input
// selects the default.
func (c *Catalog) Resolve(key string) (string, error) {
	if normalizeKey(key) == "" {
		return c.defaultKey, nil
	}
	p, err := c.Get(key)
	if err != nil {
		return "", err
	}
	return p.Key, nil
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
