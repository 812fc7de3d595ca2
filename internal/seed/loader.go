// Package seed loads field and template definitions from YAML files,
// validates them as a whole and imports them through the services.
package seed

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/regelwerk/model"
)

// Document is the content of one seed file.
type Document struct {
	Fields    []model.Field    `yaml:"fields"`
	Templates []model.Template `yaml:"templates"`

	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// Loader scans directories for YAML seed files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new seed Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files in lexical
// order and parses each into a Document.
func (l *Loader) LoadAll(directories []string) ([]Document, error) {
	var docs []Document

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			doc, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return docs, nil
}

// LoadFile loads and parses a single seed file. Unknown keys are rejected;
// an empty file yields an empty Document.
func (l *Loader) LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	doc.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	doc.SourceFile = path

	return doc, nil
}
