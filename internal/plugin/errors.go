package plugin

import "errors"

// Descriptor validation errors. Each is wrapped in a DescriptorInvalid
// failure naming the plugin.
var (
	// ErrNoManifest is returned when a plugin directory has no manifest.json.
	ErrNoManifest = errors.New("manifest.json not found")

	// ErrMissingName is returned when the manifest has no name.
	ErrMissingName = errors.New("manifest: name is required")

	// ErrMissingEntryPoint is returned when the manifest has no entryPoint.
	ErrMissingEntryPoint = errors.New("manifest: entryPoint is required")

	// ErrPathEscapesRoot is returned when a declared file resolves outside
	// the plugin directory.
	ErrPathEscapesRoot = errors.New("manifest: path escapes plugin directory")

	// ErrMissingFile is returned when a declared file does not exist.
	ErrMissingFile = errors.New("manifest: declared file does not exist")

	// ErrInvalidTable is returned for a malformed table declaration.
	ErrInvalidTable = errors.New("manifest: invalid table")

	// ErrInvalidTrustLevel is returned for an unknown trustLevel value.
	ErrInvalidTrustLevel = errors.New("manifest: invalid trustLevel")

	// ErrPrefixCollision is returned when two plugin ids map to the same
	// table namespace, or a declared table falls inside another plugin's
	// namespace.
	ErrPrefixCollision = errors.New("table namespace collides with another plugin")
)
