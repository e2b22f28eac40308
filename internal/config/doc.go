// Package config loads host configuration.
//
// Values come from, in increasing priority: built-in defaults, the TOML file
// cmdcenter.toml, and CMDCENTER_-prefixed environment variables, where a
// dotted key maps to an underscored name (plugins.dir is
// CMDCENTER_PLUGINS_DIR).
package config
