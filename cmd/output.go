package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// writeOutput renders v as indented JSON or as YAML. YAML keys follow the
// JSON tags because v is round-tripped through JSON first.
func writeOutput(w io.Writer, format string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode output")
	}
	switch format {
	case "", outputJSON:
		_, err = w.Write(append(raw, '\n'))
		return err
	case outputYAML:
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return eris.Wrap(err, "decode output")
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return eris.Wrap(err, "encode yaml output")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown output format %q (want json or yaml)", format)
	}
}
