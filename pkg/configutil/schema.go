// Package configutil validates and decodes the free-form settings maps that
// select a vendor or transport implementation.
package configutil

import (
	"sort"
	"strings"
)

// Schema lists the keys a provider accepts.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError reports every offending key at once so a bad config file can
// be fixed in one pass.
type SettingsError struct {
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidateSettings checks input against schema. Keys match regardless of case,
// underscores and hyphens; a blank string counts as missing. The error, when
// not nil, is a *SettingsError.
func ValidateSettings(input map[string]any, schema Schema) error {
	known := make(map[string]string, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		known[normalizeKey(k)] = ""
	}
	for _, k := range schema.Required {
		known[normalizeKey(k)] = k
	}

	present := make(map[string]bool, len(input))
	var serr SettingsError
	for k, v := range input {
		nk := normalizeKey(k)
		req, ok := known[nk]
		switch {
		case !ok && !schema.AllowUnknown:
			serr.Unknown = append(serr.Unknown, k)
		case req != "" && blank(v):
			continue
		}
		present[nk] = true
	}
	for nk, req := range known {
		if req != "" && !present[nk] {
			serr.Missing = append(serr.Missing, req)
		}
	}
	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	sort.Strings(serr.Missing)
	sort.Strings(serr.Unknown)
	return &serr
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

func normalizeKey(value string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(value))
}
