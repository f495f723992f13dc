// Package config loads the gateway configuration from an optional .env file,
// a YAML file and environment variables, in increasing order of precedence,
// and validates it before anything starts.
package config
