package profile

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format names a profile serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat maps a user-supplied name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported profile format: %s", s)
	}
}

// FormatFromPath picks a Format from path's extension.
func FormatFromPath(path string) (Format, error) { return ParseFormat(filepath.Ext(path)) }

// Encode serializes every field of c; nothing is omitted.
func Encode(c Configuration, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(c)
	case FormatTOML:
		return toml.Marshal(c)
	default:
		return nil, fmt.Errorf("unsupported profile format: %s", f)
	}
}

// Decode parses data on top of the defaults, so absent keys keep their
// default value and unknown keys are ignored. fallbackName is used when the
// document carries no name.
func Decode(data []byte, f Format, fallbackName string) (Configuration, error) {
	c := New("")
	var err error
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &c)
	case FormatYAML:
		err = yaml.Unmarshal(data, &c)
	case FormatTOML:
		err = toml.Unmarshal(data, &c)
	default:
		return Configuration{}, fmt.Errorf("unsupported profile format: %s", f)
	}
	if err != nil {
		return Configuration{}, err
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = fallbackName
	}
	return c, nil
}
