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

	"github.com/AleutianAI/flowstate/services/flowstate/config"
	"github.com/spf13/cobra"
)

var (
	errNoConfigPath = errors.New("no config path given and " + config.EnvConfigPath + " is not set")
	errConfigExists = errors.New("config file already exists (use --force to overwrite)")
)

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	path = config.ResolvePath(path)
	if path == "" {
		return errNoConfigPath
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%w: %s", errConfigExists, path)
	}
	if err := config.Write(path, config.DefaultConfig()); err != nil {
		return err
	}
	printer(cmd).Success("wrote " + path)
	return nil
}
