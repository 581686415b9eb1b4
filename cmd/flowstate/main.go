// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowstate runs the flow state server and talks to it.
//
// Usage:
//
//	flowstate serve --config flowstate.yaml
//	flowstate serve --listen :8081 --seed flows.yaml
//
// Client commands talk to a running server (--server or FLOWSTATE_SERVER):
//
//	flowstate stats
//	flowstate flows list
//	flowstate flows filter '~c 500 | ~e'
//	flowstate flows kill-all
//
// Example requests:
//
//	# Current view
//	curl http://localhost:8081/v1/flowstate/flows | jq
//
//	# Report a new request from a proxy engine
//	curl -X POST http://localhost:8081/v1/flowstate/events \
//	  -H "Content-Type: application/json" \
//	  -d '{"type": "request", "flow": {"method": "GET", "url": "https://example.com/"}}'
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
