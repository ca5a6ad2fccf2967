// Package configs provides embedded configuration templates for ragkb.
//
// How Configuration Templates Work:
//
// Templates are embedded at build time using Go's //go:embed directive.
// This ensures they are available in ALL distributions:
//   - Source builds (go install)
//   - Binary releases
//   - Homebrew installations
//
// The templates are used by:
//   - cmd/ragkb/cmd/config.go → creates .ragkb.yaml and the user config at ~/.config/ragkb/config.yaml
//
// Template files:
//   - project-config.example.yaml: Project-specific settings (paths, search, watch)
//   - user-config.example.yaml: Machine-specific settings (thermal, Ollama host)
//
// Configuration Hierarchy (see internal/config/config.go Load()):
//   1. Hardcoded defaults (internal/config/config.go NewConfig())
//   2. User config (~/.config/ragkb/config.yaml)
//   3. Project config (.ragkb.yaml)
//   4. Environment variables (RAGKB_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
// Changes will be embedded in the next build.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `ragkb config init` at ~/.config/ragkb/config.yaml
// Contains: Machine-specific settings like thermal management and Ollama host.
// Use case: Settings that apply to all projects on this machine.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration.
// Created by: `ragkb config init --project` at .ragkb.yaml in the project root
// Contains: Project-specific settings like paths.exclude, search weights, watch.
// Use case: Settings that are version-controlled with the project.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
