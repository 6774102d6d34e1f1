package model

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Format формат файла модели
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

// FormatFromPath определяет формат по расширению: .toml или YAML для остальных
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// LoadFile читает и собирает модель из файла
func LoadFile(fs afero.Fs, path string) (*Model, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Load(f, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Load читает и собирает модель
func Load(r io.Reader, format Format) (*Model, error) {
	m := new(Model)

	switch format {
	case FormatTOML:
		meta, err := toml.DecodeReader(r, m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown key %s", ErrInvalidModel, undecoded[0])
		}
	default:
		decoder := yaml.NewDecoder(r)
		decoder.KnownFields(true)
		if err := decoder.Decode(m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
		}
	}

	if err := m.Build(); err != nil {
		return nil, err
	}
	return m, nil
}
