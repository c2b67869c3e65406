// Package config loads, normalizes, and validates discarchive configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DISCARCHIVE_API_TOKEN. Directories left unset are derived: the staging
// directory follows the output directory so committing a staged image is a
// same-filesystem rename, and the log directory and catalog live under the
// state directory.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
