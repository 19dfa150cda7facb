package config

import (
	"os"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/ZanzyTHEbar/cyibot/internal/translator"
	"gopkg.in/yaml.v3"
)

type schemaFile struct {
	Fields []cyibot.FieldSpec `yaml:"fields"`
}

// LoadSchema returns the metadata schema declared in path, or the built-in
// schema when path is empty.
//
//	fields:
//	  - name: program
//	    type: string-enum
//	    values: [SLI, CCB, CBD, CLP]
func LoadSchema(path string) (*cyibot.MetadataSchema, error) {
	if path == "" {
		return cyibot.DefaultMetadataSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cyibot.NewConfigurationError("cannot read schema file "+path, err)
	}
	return ParseSchema(data)
}

// ParseSchema builds a metadata schema from YAML.
func ParseSchema(data []byte) (*cyibot.MetadataSchema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, cyibot.NewConfigurationError("invalid schema file", err)
	}
	return cyibot.NewMetadataSchema(f.Fields)
}

// LoadGlossary returns the directory glossary declared in path, or the
// built-in glossary when path is empty.
func LoadGlossary(path string) (*translator.Glossary, error) {
	if path == "" {
		return translator.DefaultGlossary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cyibot.NewConfigurationError("cannot read glossary file "+path, err)
	}
	return translator.ParseGlossary(data)
}
