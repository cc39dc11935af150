package cli

import (
	"strings"

	"gopkg.in/yaml.v3"

	"chainweaver/internal/attr"
)

// parseRequest turns "usage=runtime,minified=true" into an attribute set.
// Values are YAML scalars, so true and 11 become a bool and an int.
func parseRequest(pairs []string) (*attr.Set, error) {
	b := attr.NewBuilder()
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, invalidInvocationf("invalid --request entry %q (expected name=value)", pair)
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil || decoded == nil {
			decoded = strings.TrimSpace(raw)
		}
		v, err := attr.ParseValue(decoded)
		if err != nil {
			return nil, invalidInvocationf("--request %s: %v", name, err)
		}
		b.Put(name, v)
	}
	set := b.Build()
	if set.IsEmpty() {
		return nil, invalidInvocationf("--request is required")
	}
	return set, nil
}
