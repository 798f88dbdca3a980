// Package config loads, normalizes, and validates the telecine TOML
// configuration. The configuration is read once at startup and passed by
// reference into every component; no component looks up ad hoc keys at
// runtime.
package config
