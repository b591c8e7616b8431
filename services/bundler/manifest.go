package bundler

import (
	"time"

	"gopkg.in/yaml.v3"
)

const manifestVersion = "1"

// File kinds recorded in the manifest.
const (
	KindMinifiedSource = "minified_source"
	KindSourceMap      = "source_map"
	KindFile           = "file"
)

// Manifest describes the contents of an artifact bundle.
type Manifest struct {
	Version          string         `yaml:"version"`
	CreatedAt        time.Time      `yaml:"created_at"`
	Release          string         `yaml:"release"`
	Dist             string         `yaml:"dist,omitempty"`
	Signer           string         `yaml:"signer,omitempty"`
	SigningPublicKey string         `yaml:"signing_public_key,omitempty"`
	Signature        string         `yaml:"signature,omitempty"`
	Files            []ManifestFile `yaml:"files"`
}

// SigningBytes marshals the manifest without its signature for signing/verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// DebugIDs returns the distinct debug ids recorded in the manifest, in file order.
func (m Manifest) DebugIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, f := range m.Files {
		if f.DebugID == "" || seen[f.DebugID] {
			continue
		}
		seen[f.DebugID] = true
		ids = append(ids, f.DebugID)
	}
	return ids
}

// ManifestFile describes a single file within the bundle.
type ManifestFile struct {
	Path    string `yaml:"path"`
	Kind    string `yaml:"kind"`
	Size    int64  `yaml:"size"`
	SHA256  string `yaml:"sha256"`
	DebugID string `yaml:"debug_id,omitempty"`
}
