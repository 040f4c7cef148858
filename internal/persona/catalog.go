// Package persona loads the fixed character catalog from disk.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

var ErrNotFound = errors.New("persona: not found")

const metaFile = "meta.json"

var imageFiles = []string{"profile.png", "profile.jpg"}

type meta struct {
	Version string `json:"version"`
	Members []struct {
		Dir string `json:"dir"`
	} `json:"members"`
}

// Catalog is an immutable snapshot of the characters directory. Reload
// swaps the snapshot in place.
type Catalog struct {
	dir string

	mu       sync.RWMutex
	order    []string
	personas map[string]models.Persona
	version  string
}

// Load reads meta.json and every member's info file under dir.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds an in-memory catalog, mainly for tests and fixtures.
func New(personas ...models.Persona) *Catalog {
	c := &Catalog{personas: make(map[string]models.Persona, len(personas))}
	for _, p := range personas {
		if p.ImageURL == "" {
			p.ImageURL = ImageURL(p.ID)
		}
		c.order = append(c.order, p.ID)
		c.personas[p.ID] = p
	}
	return c
}

func (c *Catalog) Reload() error {
	raw, err := os.ReadFile(filepath.Join(c.dir, metaFile))
	if err != nil {
		return fmt.Errorf("persona: read meta: %w", err)
	}

	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("persona: decode meta: %w", err)
	}

	order := make([]string, 0, len(m.Members))
	personas := make(map[string]models.Persona, len(m.Members))
	for _, member := range m.Members {
		id := strings.TrimSpace(member.Dir)
		if !validID(id) {
			return fmt.Errorf("persona: invalid member dir %q", member.Dir)
		}
		if _, dup := personas[id]; dup {
			return fmt.Errorf("persona: duplicate member %q", id)
		}

		p, err := c.readInfo(id)
		if err != nil {
			return err
		}
		order = append(order, id)
		personas[id] = p
	}

	c.mu.Lock()
	c.order = order
	c.personas = personas
	c.version = m.Version
	c.mu.Unlock()
	return nil
}

func (c *Catalog) readInfo(id string) (models.Persona, error) {
	var p models.Persona
	base := filepath.Join(c.dir, id)

	if raw, err := os.ReadFile(filepath.Join(base, "info.json")); err == nil {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, fmt.Errorf("persona: decode %s/info.json: %w", id, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		raw, err := os.ReadFile(filepath.Join(base, "info.yaml"))
		if err != nil {
			return p, fmt.Errorf("persona: read info for %s: %w", id, err)
		}
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return p, fmt.Errorf("persona: decode %s/info.yaml: %w", id, err)
		}
	} else {
		return p, fmt.Errorf("persona: read %s/info.json: %w", id, err)
	}

	p.ID = id
	p.ImageURL = ImageURL(id)
	return p, nil
}

func (c *Catalog) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// All returns personas in catalog order.
func (c *Catalog) All() []models.Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]models.Persona, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.personas[id])
	}
	return result
}

func (c *Catalog) Get(id string) (models.Persona, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.personas[id]
	if !ok {
		return models.Persona{}, ErrNotFound
	}
	return p, nil
}

// IDs returns the sorted persona ids.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

// ImagePath returns the profile image on disk for id, preferring png.
func (c *Catalog) ImagePath(id string) (string, error) {
	if !validID(id) || c.dir == "" {
		return "", ErrNotFound
	}
	for _, name := range imageFiles {
		path := filepath.Join(c.dir, id, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// ImageContentType maps an image path to its MIME type.
func ImageContentType(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}

func ImageURL(id string) string {
	return "/api/characters/" + id + "/image"
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
