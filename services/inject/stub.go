package inject

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"releasekit/pkg/render"
)

const (
	// RegistryProperty is the global property holding the stack-keyed debug id registry.
	RegistryProperty = "_releasekitDebugIds"
	// MarkerProperty is the global property holding the last registered marker.
	MarkerProperty = "_releasekitDebugIdIdentifier"
	// MarkerPrefix prefixes the debug id in the marker string embedded in every artifact.
	MarkerPrefix = "releasekit-dbid-"
)

var markerPattern = regexp.MustCompile(regexp.QuoteMeta(MarkerPrefix) + `([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)

var (
	engineOnce sync.Once
	engine     *render.Engine
	engineErr  error
)

func templates() (*render.Engine, error) {
	engineOnce.Do(func() {
		engine, engineErr = render.New()
	})
	return engine, engineErr
}

// NewDebugID returns a fresh random identifier. Safe for concurrent use.
func NewDebugID() string {
	return uuid.NewString()
}

// NewCacheBustingKey returns a fresh token appended to the stub path on every resolution.
func NewCacheBustingKey() string {
	return uuid.NewString()
}

// GenerateStub returns the source that registers id in the artifact's debug id registry.
func GenerateStub(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid debug id %q: %w", id, err)
	}
	t, err := templates()
	if err != nil {
		return "", err
	}
	return t.Render("debug_id_stub.js.tmpl", map[string]string{
		"Registry":   RegistryProperty,
		"Marker":     MarkerProperty,
		"DebugID":    id,
		"Identifier": MarkerPrefix + id,
	})
}

// ExtractDebugID finds the debug id marker embedded in an emitted artifact.
func ExtractDebugID(content []byte) (string, bool) {
	m := markerPattern.FindSubmatch(content)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// ExtractDebugIDs returns every distinct debug id marker in content, in order of appearance.
func ExtractDebugIDs(content []byte) []string {
	var ids []string
	seen := map[string]struct{}{}
	for _, m := range markerPattern.FindAllSubmatch(content, -1) {
		id := string(m[1])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
