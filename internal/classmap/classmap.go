// Package classmap implements the bidirectional mapping between on-disk
// UnrealScript source paths and engine-qualified class names, and the
// resolver that locates a source file given a configured list of source
// roots.
package classmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrBadFilename is returned when a source path does not conform to the
// required ".../<package>/Classes/<class>.uc" shape.
type ErrBadFilename struct {
	Path string
}

func (e *ErrBadFilename) Error() string {
	return fmt.Sprintf("not a valid UnrealScript source path: %q", e.Path)
}

// Info describes a single known class.
type Info struct {
	FileName    string
	PackageName string
	ClassName   string
	Breakpoints []int32
}

// Qualify returns "package.class".
func (i *Info) Qualify() string {
	return i.PackageName + "." + i.ClassName
}

// Make builds an Info by splitting the given source file path.
func Make(fileName string) (*Info, error) {
	pkg, cls, err := SplitSource(fileName)
	if err != nil {
		return nil, err
	}
	return &Info{FileName: fileName, PackageName: pkg, ClassName: cls}, nil
}

// SplitSource splits a path of the form ".../<package>/Classes/<class>.uc"
// into (package, class). Components are walked from the right: the last
// component (minus extension) is the class name, the parent directory
// ("Classes") is skipped, and the component before that is the package.
func SplitSource(path string) (pkg string, cls string, err error) {
	clean := filepath.ToSlash(path)
	parts := strings.Split(clean, "/")
	// Drop trailing empty components from a trailing slash.
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) < 3 {
		return "", "", &ErrBadFilename{Path: path}
	}

	fileName := parts[len(parts)-1]
	if fileName == "" {
		return "", "", &ErrBadFilename{Path: path}
	}
	cls = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if cls == "" {
		return "", "", &ErrBadFilename{Path: path}
	}

	// parts[len-2] is the "Classes" directory; skipped.
	pkg = parts[len(parts)-3]
	if pkg == "" {
		return "", "", &ErrBadFilename{Path: path}
	}
	return pkg, cls, nil
}

// Map is the adapter's class map: keyed by the UPPERCASED qualified class
// name, mirroring the casing the engine itself uses for callbacks.
type Map struct {
	mu          sync.Mutex
	entries     map[string]*Info
	sourceRoots []string
}

// New creates an empty class map searching the given ordered source roots.
func New(sourceRoots []string) *Map {
	return &Map{
		entries:     make(map[string]*Info),
		sourceRoots: sourceRoots,
	}
}

// uppercaseKey returns the uppercased qualified name used as a map key.
func uppercaseKey(qualified string) string {
	return strings.ToUpper(qualified)
}

// EntryOrInsert returns the existing Info for a qualified name, inserting
// the given one if absent. The key is the uppercased qualified name.
func (m *Map) EntryOrInsert(qualified string, info *Info) *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uppercaseKey(qualified)
	if existing, ok := m.entries[key]; ok {
		return existing
	}
	m.entries[key] = info
	return info
}

// Get looks up an entry by its (case-insensitive) qualified name.
func (m *Map) Get(qualified string) (*Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.entries[uppercaseKey(qualified)]
	return info, ok
}

// Contains reports whether the uppercased qualified name is already known.
func (m *Map) Contains(qualified string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[uppercaseKey(qualified)]
	return ok
}

// Insert unconditionally registers an entry.
func (m *Map) Insert(qualified string, info *Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[uppercaseKey(qualified)] = info
}

// FindSourceFile searches the configured source roots in order for
// "<root>/<package>/Classes/<class>.uc", returning the canonicalized path
// of the first hit.
func (m *Map) FindSourceFile(pkg, cls string) (string, bool) {
	for _, root := range m.sourceRoots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		candidate := filepath.Join(root, pkg, "Classes", cls+".uc")
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		canonical, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		canonical = stripUNCPrefix(canonical)
		return canonical, true
	}
	return "", false
}

// stripUNCPrefix removes the Windows `\\?\` verbatim prefix that
// canonicalization can add, matching the original implementation's cosmetic
// cleanup of the resulting path.
func stripUNCPrefix(path string) string {
	return strings.TrimPrefix(path, `\\?\`)
}

// Translate resolves a canonical (engine-cased, uppercase) qualified name
// to a (package, class, file) triple, searching the source roots and
// caching the result under canonicalName if not already known; the cached
// entry carries the path found on disk.
func (m *Map) Translate(canonicalName string) (*Info, bool) {
	m.mu.Lock()
	if info, ok := m.entries[canonicalName]; ok {
		m.mu.Unlock()
		return info, true
	}
	m.mu.Unlock()

	dot := strings.IndexByte(canonicalName, '.')
	if dot < 0 {
		return nil, false
	}
	pkg := canonicalName[:dot]
	cls := canonicalName[dot+1:]

	fullPath, ok := m.FindSourceFile(pkg, cls)
	if !ok {
		return nil, false
	}

	realPkg, realCls, err := SplitSource(fullPath)
	if err != nil {
		return nil, false
	}

	info := &Info{FileName: fullPath, PackageName: realPkg, ClassName: realCls}
	m.mu.Lock()
	m.entries[canonicalName] = info
	m.mu.Unlock()
	return info, true
}
