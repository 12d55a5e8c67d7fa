package catalog

import (
	"log"
	"strconv"
	"strings"

	"MissionCore/internal/mission"
	"MissionCore/internal/tags"
)

// Registry is an immutable index of mission definitions.
type Registry struct {
	defs   []*Definition // defs[id-1]
	byTag  map[tags.Tag]mission.ID
	byName map[string]*Definition
	byRef  map[Ref]*Definition
}

// SkippedRow records a row the loader rejected.
type SkippedRow struct {
	Table  string
	Index  int
	Name   string
	Reason string
}

// LoadReport summarises a load.
type LoadReport struct {
	Tables  int
	Loaded  int
	Skipped []SkippedRow
}

// Load builds a registry from tables. Ids are assigned from 1 in table order,
// then row order, to accepted rows only. Malformed rows are skipped and logged;
// the load itself never fails.
func Load(tables []Table, logger *log.Logger) (*Registry, LoadReport) {
	if logger == nil {
		logger = log.Default()
	}
	reg := &Registry{
		byTag:  make(map[tags.Tag]mission.ID),
		byName: make(map[string]*Definition),
		byRef:  make(map[Ref]*Definition),
	}
	report := LoadReport{Tables: len(tables)}

	skip := func(table string, idx int, name, reason string) {
		report.Skipped = append(report.Skipped, SkippedRow{Table: table, Index: idx, Name: name, Reason: reason})
		logger.Printf("[catalog] skip row table=%s index=%d name=%q: %s", table, idx, name, reason)
	}

	for _, table := range tables {
		if table == nil {
			continue
		}
		tableName := table.Name()
		for idx, row := range table.Rows() {
			def, err := buildDefinition(tableName, row)
			if err != nil {
				skip(tableName, idx, row.Name, err.Error())
				continue
			}
			if _, dup := reg.byTag[def.Tag]; dup {
				skip(tableName, idx, row.Name, "duplicate tag "+string(def.Tag))
				continue
			}
			if _, dup := reg.byRef[def.Ref]; dup {
				skip(tableName, idx, row.Name, "duplicate row name in table")
				continue
			}

			def.ID = mission.ID(len(reg.defs) + 1)
			reg.defs = append(reg.defs, def)
			reg.byTag[def.Tag] = def.ID
			reg.byRef[def.Ref] = def
			if prev, ok := reg.byName[def.Ref.Name]; ok {
				logger.Printf("[catalog] row name %q shared by %s and %s; name lookup keeps the first", def.Ref.Name, prev.Ref, def.Ref)
			} else {
				reg.byName[def.Ref.Name] = def
			}
		}
	}

	report.Loaded = len(reg.defs)
	logger.Printf("[catalog] loaded %d definitions from %d tables (%d skipped)", report.Loaded, report.Tables, len(report.Skipped))
	return reg, report
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.defs)
}

// ResolveID maps a canonical tag to its id.
func (r *Registry) ResolveID(tag tags.Tag) (mission.ID, bool) {
	if r == nil {
		return mission.None, false
	}
	id, ok := r.byTag[tag]
	return id, ok
}

// ByID returns the definition with the given id.
func (r *Registry) ByID(id mission.ID) (*Definition, bool) {
	if r == nil || id < 1 || int(id) > len(r.defs) {
		return nil, false
	}
	return r.defs[id-1], true
}

// ByTag returns the definition with the given canonical tag.
func (r *Registry) ByTag(tag tags.Tag) (*Definition, bool) {
	id, ok := r.ResolveID(tag)
	if !ok {
		return nil, false
	}
	return r.ByID(id)
}

// ByName returns the first definition loaded with the given row name.
func (r *Registry) ByName(name string) (*Definition, bool) {
	if r == nil {
		return nil, false
	}
	def, ok := r.byName[name]
	return def, ok
}

// ByRef returns the definition at a table and row name.
func (r *Registry) ByRef(ref Ref) (*Definition, bool) {
	if r == nil {
		return nil, false
	}
	def, ok := r.byRef[ref]
	return def, ok
}

// Lookup resolves a caller-supplied mission reference. The tag index is tried
// first, then row names, then "table/name" refs, then numeric ids.
func (r *Registry) Lookup(ref string) (*Definition, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	if def, ok := r.ByTag(tags.Tag(ref)); ok {
		return def, true
	}
	if def, ok := r.ByName(ref); ok {
		return def, true
	}
	if table, name, ok := strings.Cut(ref, "/"); ok {
		if def, ok := r.ByRef(Ref{Table: table, Name: name}); ok {
			return def, true
		}
	}
	if n, err := strconv.ParseInt(ref, 10, 32); err == nil {
		return r.ByID(mission.ID(n))
	}
	return nil, false
}

// Definitions returns every definition in id order.
func (r *Registry) Definitions() []*Definition {
	if r == nil {
		return nil
	}
	out := make([]*Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Target resolves the definition a branch points at.
func (r *Registry) Target(br Branch) (*Definition, bool) {
	return r.ByRef(br.Target)
}
