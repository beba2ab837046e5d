package profile

import "embed"

//go:embed defaults/*.json
var defaultsFS embed.FS

// bundledDefaults holds the profiles shipped with the binary so that a
// device configured with profile: "water_treatment" (or any other
// bundled name) works without an operator-supplied profile directory
// (spec §4.3's default-profile fallback).
var bundledDefaults = loadBundledDefaults()

func loadBundledDefaults() map[string][]byte {
	out := make(map[string][]byte)
	entries, err := defaultsFS.ReadDir("defaults")
	if err != nil {
		return out
	}
	for _, e := range entries {
		data, err := defaultsFS.ReadFile("defaults/" + e.Name())
		if err != nil {
			continue
		}
		name := e.Name()
		if len(name) > 5 && name[len(name)-5:] == ".json" {
			name = name[:len(name)-5]
		}
		out[name] = data
	}
	return out
}

// DefaultProfileName is the device used when a device has no custom
// simulation entries and no explicit profile (spec §4.3).
const DefaultProfileName = "water_treatment"
