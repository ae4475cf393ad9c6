// Package registry maps changed files to the linked package that owns them.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultWatchDir = "dist"

var (
	ErrNoPackages       = errors.New("at least one package is required")
	ErrDuplicatePackage = errors.New("duplicate package name")
)

// Package is one configured package root.
type Package struct {
	Name string
	Root string
}

// PackageInfo is the result of resolving a changed path.
type PackageInfo struct {
	Name string
	Path string
}

// Registry is an ordered, immutable set of package roots.
type Registry struct {
	packages []Package
}

// New builds a registry preserving the given order. Roots are cleaned;
// names must be unique and non-empty.
func New(packages []Package) (*Registry, error) {
	if len(packages) == 0 {
		return nil, ErrNoPackages
	}
	seen := make(map[string]struct{}, len(packages))
	cleaned := make([]Package, 0, len(packages))
	for _, pkg := range packages {
		name := strings.TrimSpace(pkg.Name)
		if name == "" {
			return nil, errors.New("package name is required")
		}
		if strings.TrimSpace(pkg.Root) == "" {
			return nil, fmt.Errorf("package %q: root is required", name)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePackage, name)
		}
		seen[name] = struct{}{}
		cleaned = append(cleaned, Package{Name: name, Root: filepath.Clean(pkg.Root)})
	}
	return &Registry{packages: cleaned}, nil
}

// FromMap builds a registry from an unordered mapping, ordering by name so
// resolution is deterministic.
func FromMap(roots map[string]string) (*Registry, error) {
	names := make([]string, 0, len(roots))
	for name := range roots {
		names = append(names, name)
	}
	sort.Strings(names)
	packages := make([]Package, 0, len(names))
	for _, name := range names {
		packages = append(packages, Package{Name: name, Root: roots[name]})
	}
	return New(packages)
}

// Packages returns a copy of the registry entries in resolution order.
func (r *Registry) Packages() []Package {
	if r == nil {
		return nil
	}
	out := make([]Package, len(r.packages))
	copy(out, r.packages)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.packages)
}

// Lookup returns the root for a package name.
func (r *Registry) Lookup(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, pkg := range r.packages {
		if pkg.Name == name {
			return pkg.Root, true
		}
	}
	return "", false
}

// WatchTarget is the directory watched for a package root.
func WatchTarget(root, watchDir string) string {
	if watchDir == "" {
		watchDir = DefaultWatchDir
	}
	return filepath.Join(root, watchDir)
}

// Resolve returns the first package, in registry order, whose watch target
// contains filePath. A target only matches whole path segments, so
// "/pkg/dist-backup/x" is not owned by the package watching "/pkg/dist".
func Resolve(filePath string, reg *Registry, watchDir string) (PackageInfo, bool) {
	if reg == nil || filePath == "" {
		return PackageInfo{}, false
	}
	cleaned := filepath.Clean(filePath)
	for _, pkg := range reg.packages {
		if isWithin(WatchTarget(pkg.Root, watchDir), cleaned) {
			return PackageInfo{Name: pkg.Name, Path: pkg.Root}, true
		}
	}
	return PackageInfo{}, false
}

func isWithin(target, path string) bool {
	if path == target {
		return true
	}
	prefix := target
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// Overlaps reports pairs of packages whose watch targets nest, which makes
// resolution depend on registry order.
func Overlaps(reg *Registry, watchDir string) [][2]string {
	if reg == nil {
		return nil
	}
	var pairs [][2]string
	for i, outer := range reg.packages {
		outerTarget := WatchTarget(outer.Root, watchDir)
		for _, inner := range reg.packages[i+1:] {
			innerTarget := WatchTarget(inner.Root, watchDir)
			if isWithin(outerTarget, innerTarget) || isWithin(innerTarget, outerTarget) {
				pairs = append(pairs, [2]string{outer.Name, inner.Name})
			}
		}
	}
	return pairs
}
