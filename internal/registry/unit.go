package registry

import (
	"io/fs"
	"path"
	"strings"
)

// Unit is one source of tool definitions. Register declares the unit's
// tools on the collector; returning an error discards all of them.
type Unit interface {
	Path() string
	Register(c *Collector) error
}

// Collector gathers the tools declared by a single unit.
type Collector struct {
	unit  string
	tools []Tool
}

// Unit returns the path of the unit being collected.
func (c *Collector) Unit() string {
	return c.unit
}

// Add declares a tool.
func (c *Collector) Add(t Tool) {
	c.tools = append(c.tools, t)
}

type funcUnit struct {
	path string
	fn   func(c *Collector) error
}

func (u funcUnit) Path() string                { return u.path }
func (u funcUnit) Register(c *Collector) error { return u.fn(c) }

// NewUnit returns a Unit backed by a registration function.
func NewUnit(path string, register func(c *Collector) error) Unit {
	return funcUnit{path: path, fn: register}
}

// Excluded reports whether a unit path is excluded from discovery.
// Units whose base name starts with an underscore are private.
func Excluded(unitPath string) bool {
	return strings.HasPrefix(path.Base(unitPath), "_")
}

// Opener turns a file found during a directory walk into a Unit.
// Returning nil ignores the file.
type Opener func(fsys fs.FS, name string) Unit

// WalkUnits walks root in lexical order and opens every regular file as a
// unit. Every directory is entered; exclusion applies to file names only
// and is decided by Discover. A missing root yields an error wrapping
// fs.ErrNotExist.
func WalkUnits(fsys fs.FS, root string, open Opener) ([]Unit, error) {
	if _, err := fs.Stat(fsys, root); err != nil {
		return nil, err
	}

	var units []Unit
	err := fs.WalkDir(fsys, root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if u := open(fsys, name); u != nil {
			units = append(units, u)
		}
		return nil
	})
	return units, err
}
