// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ScribeFOSS/services/scribe"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
)

// Manifest is the YAML input for scribe run, validate, and watch.
//
// A manifest holds either a single command sequence for one session
// (commands) or a set of independent document jobs (documents), never
// both. Example:
//
//	label: weekly report
//	transactional: true
//	commands:
//	  - kind: create_document
//	  - kind: insert_text
//	    params:
//	      text: "Q3 summary"
type Manifest struct {
	// Label names the run in progress output and logs. Optional.
	Label string `yaml:"label"`

	// Transactional controls rollback on failure. Default: true.
	Transactional *bool `yaml:"transactional"`

	// StopOnError stops at the first failed command when running
	// non-transactionally. Default: true. Ignored (always true)
	// for transactional runs.
	StopOnError *bool `yaml:"stop_on_error"`

	// Commands is the batch for a single session.
	Commands []ManifestCommand `yaml:"commands"`

	// Documents is a list of independent jobs, each executed on its
	// own fresh session.
	Documents []ManifestJob `yaml:"documents"`
}

// ManifestCommand is one command entry.
type ManifestCommand struct {
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

// ManifestJob is one document job in a multi-document manifest. The
// commands must open or create the document themselves; Document is
// the name used in reports.
type ManifestJob struct {
	Document string            `yaml:"document"`
	Commands []ManifestCommand `yaml:"commands"`
}

// LoadManifest reads and validates a manifest file.
//
// Outputs:
//   - *Manifest: Parsed and structurally valid.
//   - error: Unreadable file, bad YAML, or a manifest that names no work.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the manifest's shape. Command kinds and parameters
// are checked later, against the registry.
func (m *Manifest) Validate() error {
	if len(m.Commands) == 0 && len(m.Documents) == 0 {
		return errors.New("manifest names no work: set commands or documents")
	}
	if len(m.Commands) > 0 && len(m.Documents) > 0 {
		return errors.New("manifest mixes commands with documents; use one or the other")
	}
	for i, job := range m.Documents {
		if job.Document == "" {
			return fmt.Errorf("documents[%d]: document name is required", i)
		}
		if len(job.Commands) == 0 {
			return fmt.Errorf("documents[%d] (%s): no commands", i, job.Document)
		}
	}
	return nil
}

// Jobs flattens the manifest into a uniform job list. A session
// manifest becomes one job with an empty document name.
func (m *Manifest) Jobs() []ManifestJob {
	if len(m.Commands) > 0 {
		return []ManifestJob{{Commands: m.Commands}}
	}
	return m.Documents
}

// IsTransactional reports the effective transactional setting after
// flags are applied. --continue-on-error forces a non-transactional
// run because partial results are the point of continuing.
func (m *Manifest) IsTransactional(noTransaction, continueOnError bool) bool {
	if noTransaction || continueOnError {
		return false
	}
	return m.Transactional == nil || *m.Transactional
}

// StopsOnError reports whether execution halts at the first failure.
func (m *Manifest) StopsOnError(continueOnError bool) bool {
	if continueOnError {
		return false
	}
	return m.StopOnError == nil || *m.StopOnError
}

// toCommands converts manifest entries to executor commands.
func toCommands(specs []ManifestCommand) []command.Command {
	out := make([]command.Command, len(specs))
	for i, spec := range specs {
		out[i] = command.Command{
			Kind:   command.Kind(spec.Kind),
			Params: command.Params(spec.Params),
		}
	}
	return out
}

// commandSpecs converts manifest entries to API command specs for
// registry-level validation.
func commandSpecs(specs []ManifestCommand) []scribe.CommandSpec {
	out := make([]scribe.CommandSpec, len(specs))
	for i, spec := range specs {
		out[i] = scribe.CommandSpec{Kind: spec.Kind, Params: spec.Params}
	}
	return out
}
