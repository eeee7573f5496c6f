// Package config loads and validates the application configuration from
// a JSON file, with HEDGEFLOW_* environment variable overrides applied on
// top and defaults for anything left unset.
package config
