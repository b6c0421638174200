// Package configs embeds the configuration templates written by
// `dirindex config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults
//  2. User config (~/.config/dirindex/config.yaml)
//  3. Project config (.dirindex.yaml)
//  4. Environment variables (DIRINDEX_*)
package configs

import _ "embed"

// UserConfigTemplate is written to the user config path by `dirindex config init`.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written to .dirindex.yaml by `dirindex config init --project`.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
