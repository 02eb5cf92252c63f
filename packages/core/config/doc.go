// Package config handles configuration loading and management for nativehttp.
//
// It provides functionality for:
//   - Loading configuration from .nativehttp.yaml, .nativehttp.yml or
//     nativehttp.config.json
//   - Default configuration values
//   - Merging file settings with command line overrides
package config
