package esbuild

import (
	"encoding/json"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"releasekit/services/inject"
)

// outcomeOf lists the produced files, preferring the metafile's order and falling back to
// the in-memory output files.
func outcomeOf(result *api.BuildResult) inject.Outcome {
	if result == nil {
		return inject.Outcome{}
	}
	if outputs, ok := metafileOutputs(result.Metafile); ok {
		return inject.Outcome{Outputs: outputs, HasManifest: true}
	}
	if len(result.OutputFiles) > 0 {
		outputs := make([]string, 0, len(result.OutputFiles))
		for _, f := range result.OutputFiles {
			outputs = append(outputs, f.Path)
		}
		return inject.Outcome{Outputs: outputs, HasManifest: true}
	}
	return inject.Outcome{}
}

// metafileOutputs returns the keys of the metafile's "outputs" object in document order.
func metafileOutputs(metafile string) ([]string, bool) {
	if strings.TrimSpace(metafile) == "" {
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(metafile))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		if key, _ := tok.(string); key != "outputs" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, false
			}
			continue
		}

		if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
			return nil, false
		}
		outputs := []string{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, false
			}
			name, ok := tok.(string)
			if !ok {
				return nil, false
			}
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, false
			}
			outputs = append(outputs, name)
		}
		return outputs, true
	}
	return nil, false
}
