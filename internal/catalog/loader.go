package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	xerrors "AgentRouter/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// File is the on-disk catalog layout.
type File struct {
	Handlers []Descriptor        `json:"handlers" yaml:"handlers"`
	Intents  map[string][]string `json:"intents" yaml:"intents"`
}

// Parse decodes a catalog document. format is "json" or "yaml".
func Parse(data []byte, format string) (*Catalog, error) {
	var file File
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCatalogInvalid, err, "decode catalog json")
		}
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCatalogInvalid, err, "decode catalog yaml")
		}
	}
	return New(file.Handlers, file.Intents)
}

// LoadFile reads and builds a catalog from path. The format follows the file
// extension; anything other than .json is read as YAML.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "catalog path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCatalogInvalid, err, fmt.Sprintf("read catalog %s", path))
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	c, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	c.source = path
	return c, nil
}
