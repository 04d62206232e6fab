// Package registry loads the set of managed services from a YAML file and
// resolves each one's compose project.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"service-agent/internal/domain"
)

const defaultComposeFile = "docker-compose.yml"

// File is the on-disk registry document.
//
//	categories: [shared, billing]
//	services:
//	  - name: billing
//	    dir: BillingService
//	    compose: [docker-compose.yml]
//	    container_name: billing-app
type File struct {
	Categories []string       `yaml:"categories"`
	Services   []ServiceEntry `yaml:"services"`
}

// ServiceEntry is one service declaration.
type ServiceEntry struct {
	Name           string   `yaml:"name"`
	Dir            string   `yaml:"dir"`
	Compose        []string `yaml:"compose"`
	ContainerName  string   `yaml:"container_name"`
	MultiContainer bool     `yaml:"multi_container"`
	// Project overrides the compose project name. Normally left empty and
	// read from the compose files.
	Project string `yaml:"project"`
}

// Registry is an immutable, validated set of service descriptors.
type Registry struct {
	byName     map[string]domain.ServiceDescriptor
	names      []string
	categories []string
}

// Compile-time check.
var _ domain.ServiceRegistry = (*Registry)(nil)

// LoadFile reads the registry at path. Service directories are resolved
// relative to basePath.
func LoadFile(ctx context.Context, path, basePath string, logger *slog.Logger) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied registry path
	if err != nil {
		return nil, fmt.Errorf("read service registry: %w", err)
	}
	return Parse(ctx, data, basePath, logger)
}

// Parse decodes a registry document. Unknown fields are rejected.
func Parse(ctx context.Context, data []byte, basePath string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse service registry: %w", err)
	}
	return build(ctx, f, basePath, logger)
}

func build(ctx context.Context, f File, basePath string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{byName: make(map[string]domain.ServiceDescriptor, len(f.Services))}

	for i, e := range f.Services {
		if err := domain.ValidateServiceName(e.Name); err != nil {
			return nil, fmt.Errorf("service registry entry %d: %w", i, err)
		}
		if _, dup := r.byName[e.Name]; dup {
			return nil, fmt.Errorf("service registry: duplicate service %q", e.Name)
		}
		if e.Dir == "" {
			return nil, fmt.Errorf("service registry: service %q has no dir", e.Name)
		}

		desc := domain.ServiceDescriptor{
			Name:           e.Name,
			Dir:            resolveDir(basePath, e.Dir),
			ComposeFiles:   e.Compose,
			ContainerName:  e.ContainerName,
			MultiContainer: e.MultiContainer,
			Project:        e.Project,
		}
		if len(desc.ComposeFiles) == 0 {
			desc.ComposeFiles = []string{defaultComposeFile}
		}

		project, declared, err := resolveProject(ctx, desc)
		if err != nil {
			// The directory may not be checked out yet; status lookups still
			// work with the name compose would derive.
			logger.Warn("compose project not loadable, using directory name",
				"service", e.Name, "dir", desc.Dir, "error", err)
		}
		if desc.Project == "" {
			desc.Project = project
		}
		desc.Declared = declared

		r.byName[e.Name] = desc
		r.names = append(r.names, e.Name)
	}
	sort.Strings(r.names)

	seen := make(map[string]bool, len(f.Categories))
	for _, c := range f.Categories {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		r.categories = append(r.categories, c)
	}
	return r, nil
}

func resolveDir(basePath, dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(basePath, dir)
}

// fallbackProject is the name docker compose derives from the directory.
func fallbackProject(dir string) string {
	return loader.NormalizeProjectName(filepath.Base(dir))
}

// resolveProject loads the compose files to learn the project name and the
// services they declare. On error the directory-derived name is returned.
func resolveProject(ctx context.Context, desc domain.ServiceDescriptor) (string, []string, error) {
	fallback := fallbackProject(desc.Dir)

	files := make([]composetypes.ConfigFile, 0, len(desc.ComposeFiles))
	for _, name := range desc.ComposeFiles {
		path := filepath.Join(desc.Dir, name)
		content, err := os.ReadFile(path) //nolint:gosec // paths come from the registry
		if err != nil {
			return fallback, nil, fmt.Errorf("read compose file: %w", err)
		}
		files = append(files, composetypes.ConfigFile{Filename: path, Content: content})
	}

	details := composetypes.ConfigDetails{
		WorkingDir:  desc.Dir,
		ConfigFiles: files,
		Environment: composetypes.NewMapping(os.Environ()),
	}
	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		// A top-level "name:" in the compose files still wins.
		o.SetProjectName(fallback, false)
		o.SkipConsistencyCheck = true
	})
	if err != nil {
		return fallback, nil, fmt.Errorf("load compose project: %w", err)
	}

	declared := project.ServiceNames()
	sort.Strings(declared)
	return project.Name, declared, nil
}

// Get returns the descriptor for name, or a NotFoundError.
func (r *Registry) Get(name string) (domain.ServiceDescriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return domain.ServiceDescriptor{}, domain.ErrNotFound("service %q not found", name)
	}
	return d, nil
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []domain.ServiceDescriptor {
	out := make([]domain.ServiceDescriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

// Categories returns the configuration categories in file order.
func (r *Registry) Categories() []string {
	return append([]string(nil), r.categories...)
}
