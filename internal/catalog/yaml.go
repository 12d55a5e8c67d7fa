package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML document shape for definition tables.
type File struct {
	Tables []FileTable `yaml:"tables"`
}

// FileTable is one named table inside a File.
type FileTable struct {
	Name string `yaml:"name"`
	Rows []Row  `yaml:"rows"`
}

// ParseYAML decodes tables from a YAML document.
func ParseYAML(data []byte) ([]*MemTable, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}
	out := make([]*MemTable, 0, len(f.Tables))
	for i, ft := range f.Tables {
		if ft.Name == "" {
			return nil, fmt.Errorf("catalog: table %d has no name", i)
		}
		out = append(out, NewMemTable(ft.Name, ft.Rows))
	}
	return out, nil
}

// LoadYAMLFiles reads and concatenates tables from each path in order.
func LoadYAMLFiles(paths ...string) ([]*MemTable, error) {
	var out []*MemTable
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		tables, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, tables...)
	}
	return out, nil
}

// MarshalYAML encodes tables back into a File document.
func MarshalYAML(tables []Table) ([]byte, error) {
	f := File{Tables: make([]FileTable, 0, len(tables))}
	for _, t := range tables {
		f.Tables = append(f.Tables, FileTable{Name: t.Name(), Rows: t.Rows()})
	}
	return yaml.Marshal(f)
}

// AsTables widens a MemTable slice to the Table interface.
func AsTables(tables []*MemTable) []Table {
	out := make([]Table, len(tables))
	for i, t := range tables {
		out[i] = t
	}
	return out
}
