package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/mvp-joe/harvest/internal/identity"
)

// extractDeclarative validates a JSON, YAML or TOML document and reports it
// as a single chunk covering the whole file.
func extractDeclarative(content []byte, language, filePath string) ([]Candidate, error) {
	if err := validateDocument(content, language); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	total := len(identity.Lines(content))
	if total == 0 {
		return nil, nil
	}
	return []Candidate{{
		Kind:      KindOther,
		Symbol:    path.Base(strings.ReplaceAll(filePath, "\\", "/")),
		StartLine: 1,
		EndLine:   total,
		Public:    false,
	}}, nil
}

func validateDocument(content []byte, language string) error {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	switch language {
	case "json":
		var v any
		dec := json.NewDecoder(bytes.NewReader(content))
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if dec.More() {
			return errors.New("trailing data after JSON value")
		}
		return nil
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(content))
		for {
			var node yaml.Node
			err := dec.Decode(&node)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	case "toml":
		var v map[string]any
		return toml.Unmarshal(content, &v)
	}
	return nil
}
