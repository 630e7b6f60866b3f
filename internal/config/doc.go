// Package config assembles gitchunk settings from defaults, an optional YAML
// file, GITCHUNK_* environment variables and command-line flags, in increasing
// order of precedence, and validates the result.
package config
