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
	"fmt"
	"os"

	"github.com/AleutianAI/flowstate/services/flowstate"
	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8081"

var (
	// Persistent flags
	serverURL string
	plainOut  bool

	// serve flags
	configPath string
	listenAddr string
	seedPath   string

	// config init flags
	initForce bool

	// flows list flags
	listAll    bool
	listOffset int
	listLimit  int
)

var (
	rootCmd = &cobra.Command{
		Use:           "flowstate",
		Short:         "Flow registry for an intercepting proxy",
		Long:          `flowstate keeps the ordered set of flows a proxy has seen and a filtered view over them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the flow state API server",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "flowstate", flowstate.ServiceVersion)
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the server configuration file",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration; path defaults to FLOWSTATE_CONFIG",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit, // Defined in cmd_config.go
	}

	// --- Client commands ---
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show flow counts and the active filter",
		Args:  cobra.NoArgs,
		RunE:  runStats, // Defined in cmd_flows.go
	}

	flowsCmd = &cobra.Command{
		Use:   "flows",
		Short: "Inspect and act on flows",
	}
	flowsListCmd = &cobra.Command{
		Use:     "list",
		Short:   "List the flows in the current view",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE:    runFlowsList,
	}
	flowsFilterCmd = &cobra.Command{
		Use:   "filter [expression]",
		Short: "Replace the view filter; no expression clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFlowsFilter,
	}
	flowsAcceptAllCmd = &cobra.Command{
		Use:   "accept-all",
		Short: "Resume every intercepted flow",
		Args:  cobra.NoArgs,
		RunE:  runBatch("accept_all"),
	}
	flowsKillAllCmd = &cobra.Command{
		Use:   "kill-all",
		Short: "Kill every killable flow",
		Args:  cobra.NoArgs,
		RunE:  runBatch("kill_all"),
	}
	flowsClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every flow",
		Args:  cobra.NoArgs,
		RunE:  runFlowsClear,
	}
	flowsDeleteCmd = &cobra.Command{
		Use:     "delete [id]",
		Short:   "Remove one flow",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE:    runFlowsDelete,
	}
	flowsDuplicateCmd = &cobra.Command{
		Use:   "duplicate [id]",
		Short: "Copy a flow",
		Args:  cobra.ExactArgs(1),
		RunE:  runFlowsDuplicate,
	}
	flowsLoadCmd = &cobra.Command{
		Use:   "load [file]",
		Short: "Append flows from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runFlowsLoad,
	}
)

func init() {
	server := os.Getenv("FLOWSTATE_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", server, "flowstate server URL (env FLOWSTATE_SERVER)")
	rootCmd.PersistentFlags().BoolVar(&plainOut, "plain", false, "disable styled output")

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (env FLOWSTATE_CONFIG)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "override server.listen")
	serveCmd.Flags().StringVar(&seedPath, "seed", "", "YAML file of flows to load at startup")

	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")

	flowsListCmd.Flags().BoolVarP(&listAll, "all", "a", false, "list the whole store instead of the view")
	flowsListCmd.Flags().IntVar(&listOffset, "offset", 0, "skip this many flows")
	flowsListCmd.Flags().IntVar(&listLimit, "limit", 0, "show at most this many flows (0 for all)")

	flowsCmd.AddCommand(flowsListCmd, flowsFilterCmd, flowsAcceptAllCmd, flowsKillAllCmd,
		flowsClearCmd, flowsDeleteCmd, flowsDuplicateCmd, flowsLoadCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd, versionCmd, configCmd, statsCmd, flowsCmd)
}
