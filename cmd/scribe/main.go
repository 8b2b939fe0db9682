// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Scribe is the command-line front end for the batch document processor.
//
// Usage:
//
//	scribe serve                      # start the HTTP API
//	scribe run manifest.yaml          # execute a batch manifest
//	scribe run --dry-run m.yaml       # same commands, in-memory driver
//	scribe validate manifest.yaml     # check a manifest without a session
//	scribe watch ./spool              # run manifests as they appear
//
// Every command reads ~/.scribe/scribe.yaml unless --config points
// elsewhere. A commented default file is written on first use.
package main

import (
	"log"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
