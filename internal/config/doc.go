// Package config loads the collector configuration.
//
// Values come from three sources, lowest precedence first:
//
//  1. Default()
//  2. a YAML file (IPO_CONFIG_FILE, or ./config.yaml when present)
//  3. IPO_* environment variables, e.g. IPO_API_APP_KEY, IPO_RETRY_MAX_ATTEMPTS
//
// The resulting *Config is built once in main and handed to each component's
// constructor. Nothing in the module reads configuration from package state.
package config
