// Package schema defines per-domain entity and relation vocabularies.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docgraph/internal/graph"
)

//go:embed builtin.yaml
var builtinYAML []byte

// DefaultDomain is used when a request names no domain.
const DefaultDomain = "general"

// ErrUnknownDomain is returned by Registry.Get for unregistered names.
var ErrUnknownDomain = errors.New("unknown domain")

// EntityType is one allowed entity type.
type EntityType struct {
	Name        string   `yaml:"name" json:"name"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// RelationType is one allowed relation. Source and Target list the entity types
// it connects; they drive inference when a model omits the relation type.
type RelationType struct {
	Name        string   `yaml:"name" json:"name"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Source      []string `yaml:"source,omitempty" json:"source,omitempty"`
	Target      []string `yaml:"target,omitempty" json:"target,omitempty"`
}

// Domain is a named vocabulary. It implements graph.Canonicalizer.
type Domain struct {
	Name          string         `yaml:"name" json:"name"`
	Description   string         `yaml:"description" json:"description"`
	EntityTypes   []EntityType   `yaml:"entity_types" json:"entity_types"`
	RelationTypes []RelationType `yaml:"relation_types" json:"relation_types"`

	once      sync.Once
	entities  map[string]string // lowered name or alias -> canonical
	relations map[string]string // RelationTypeKey of name or alias -> canonical
}

type file struct {
	Domains []*Domain `yaml:"domains"`
}

func (d *Domain) index() {
	d.once.Do(func() {
		d.entities = make(map[string]string)
		d.relations = make(map[string]string)
		for _, et := range d.EntityTypes {
			d.entities[graph.TypeKey(et.Name)] = et.Name
			for _, a := range et.Aliases {
				if _, ok := d.entities[graph.TypeKey(a)]; !ok {
					d.entities[graph.TypeKey(a)] = et.Name
				}
			}
		}
		for _, rt := range d.RelationTypes {
			d.relations[graph.RelationTypeKey(rt.Name)] = rt.Name
			for _, a := range rt.Aliases {
				if _, ok := d.relations[graph.RelationTypeKey(a)]; !ok {
					d.relations[graph.RelationTypeKey(a)] = rt.Name
				}
			}
		}
	})
}

// EntityType maps a name or alias to its canonical type, or "" if unknown.
func (d *Domain) EntityType(t string) string {
	d.index()
	return d.entities[graph.TypeKey(t)]
}

// RelationType canonicalizes rel. When rel is empty it infers the single
// relation whose source and target lists admit the endpoint types.
func (d *Domain) RelationType(rel, sourceType, targetType string) string {
	d.index()
	if key := graph.RelationTypeKey(rel); key != "" {
		return d.relations[key]
	}
	var match string
	for _, rt := range d.RelationTypes {
		if len(rt.Source) == 0 || len(rt.Target) == 0 {
			continue
		}
		if slices.Contains(rt.Source, sourceType) && slices.Contains(rt.Target, targetType) {
			if match != "" {
				return ""
			}
			match = rt.Name
		}
	}
	return match
}

// EntityTypeNames lists canonical entity type names in declaration order.
func (d *Domain) EntityTypeNames() []string {
	out := make([]string, len(d.EntityTypes))
	for i, et := range d.EntityTypes {
		out[i] = et.Name
	}
	return out
}

// RelationTypeNames lists canonical relation type names in declaration order.
func (d *Domain) RelationTypeNames() []string {
	out := make([]string, len(d.RelationTypes))
	for i, rt := range d.RelationTypes {
		out[i] = rt.Name
	}
	return out
}

func (d *Domain) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("domain without name")
	}
	if len(d.EntityTypes) == 0 {
		return fmt.Errorf("domain %q: no entity types", d.Name)
	}
	for _, et := range d.EntityTypes {
		if strings.TrimSpace(et.Name) == "" {
			return fmt.Errorf("domain %q: entity type without name", d.Name)
		}
	}
	for _, rt := range d.RelationTypes {
		if graph.RelationTypeKey(rt.Name) == "" {
			return fmt.Errorf("domain %q: relation type without name", d.Name)
		}
	}
	return nil
}

// Registry holds the domains available to a process.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*Domain
}

// NewRegistry returns a registry preloaded with the built-in domains.
func NewRegistry() *Registry {
	r := &Registry{domains: make(map[string]*Domain)}
	if err := r.Load(builtinYAML); err != nil {
		panic(fmt.Sprintf("schema: built-in domains: %v", err))
	}
	return r
}

// Load parses a YAML document of domains and registers them, replacing any
// domain with the same name.
func (r *Registry) Load(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse domains: %w", err)
	}
	if len(f.Domains) == 0 {
		return errors.New("parse domains: no domains defined")
	}
	for _, d := range f.Domains {
		if err := d.validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range f.Domains {
		r.domains[strings.ToLower(d.Name)] = d
	}
	return nil
}

// LoadFile registers the domains defined in a YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read domains file: %w", err)
	}
	if err := r.Load(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Get returns the named domain; "" selects the default.
func (r *Registry) Get(name string) (*Domain, error) {
	if name == "" {
		name = DefaultDomain
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}
	return d, nil
}

// List returns all domains sorted by name.
func (r *Registry) List() []*Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Domain, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
