package config

import "fmt"

// Config file format version constants
const (
	// CurrentVersion is the configuration version this code can parse
	CurrentVersion = "1.1"

	// MinCompatibleVersion is the minimum config version compatible with this code
	// V1.0 and V1.1 are both supported; V1.1 adds per-device dedupe_by_timestamp
	MinCompatibleVersion = "1.0"
)

// VersionInfo contains version metadata from config file
type VersionInfo struct {
	Version string `yaml:"version"`
}

// ValidateVersion checks if the config file version is compatible.
// An empty version is accepted and treated as the current one.
func ValidateVersion(fileVersion string) error {
	if fileVersion == "" {
		return nil
	}

	if fileVersion != "1.0" && fileVersion != "1.1" {
		return fmt.Errorf("incompatible configuration version: %s (expected: %s, minimum: %s)",
			fileVersion, CurrentVersion, MinCompatibleVersion)
	}

	return nil
}

// IsCompatible checks if a version string is compatible with current parser
func IsCompatible(version string) bool {
	return version == CurrentVersion
}
