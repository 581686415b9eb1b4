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

	"github.com/AleutianAI/flowstate/pkg/ux"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
	"github.com/spf13/cobra"
)

func printer(cmd *cobra.Command) *ux.Printer {
	if plainOut {
		return ux.NewPlainPrinter(cmd.OutOrStdout())
	}
	return ux.NewPrinter(cmd.OutOrStdout())
}

func client() *apiClient {
	return newAPIClient(serverURL)
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := client().stats(cmd.Context())
	if err != nil {
		return err
	}
	printer(cmd).Stats(s.Total, s.View, s.Active, s.OpenViews, s.Filter)
	return nil
}

func runFlowsList(cmd *cobra.Command, args []string) error {
	list, err := client().listFlows(cmd.Context(), listAll, listOffset, listLimit)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("View (%d flows)", list.Total)
	if listAll {
		title = fmt.Sprintf("Store (%d flows)", list.Total)
	} else if list.Filter != "" {
		title = fmt.Sprintf("View %q (%d flows)", list.Filter, list.Total)
	}
	printer(cmd).FlowTable(title, flowRows(list.Offset, list.Flows))
	return nil
}

func flowRows(offset int, snaps []flow.Snapshot) []ux.FlowRow {
	rows := make([]ux.FlowRow, len(snaps))
	for i, s := range snaps {
		rows[i] = ux.FlowRow{
			Index:       offset + i,
			ID:          s.ID,
			Method:      s.Method,
			URL:         s.URL,
			StatusCode:  s.StatusCode,
			Error:       s.Error,
			Intercepted: s.Intercepted,
		}
	}
	return rows
}

func runFlowsFilter(cmd *cobra.Command, args []string) error {
	text := ""
	if len(args) == 1 {
		text = args[0]
	}
	s, err := client().setFilter(cmd.Context(), text)
	if err != nil {
		return err
	}
	p := printer(cmd)
	if s.Filter == "" {
		p.Success(fmt.Sprintf("filter cleared, %d flows in view", s.View))
	} else {
		p.Success(fmt.Sprintf("filter %q, %d of %d flows in view", s.Filter, s.View, s.Total))
	}
	return nil
}

func runBatch(op string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		res, err := client().batch(cmd.Context(), op)
		if err != nil {
			return err
		}
		failed := make([]ux.BatchFailure, len(res.Failed))
		for i, f := range res.Failed {
			failed[i] = ux.BatchFailure{ID: f.ID, Error: f.Error}
		}
		printer(cmd).Batch(res.Op, res.Attempted, failed)
		if len(failed) > 0 {
			return fmt.Errorf("%s: %d flows failed", op, len(failed))
		}
		return nil
	}
}

func runFlowsClear(cmd *cobra.Command, args []string) error {
	n, err := client().clear(cmd.Context())
	if err != nil {
		return err
	}
	printer(cmd).Success(fmt.Sprintf("removed %d flows", n))
	return nil
}

func runFlowsDelete(cmd *cobra.Command, args []string) error {
	if err := client().deleteFlow(cmd.Context(), args[0]); err != nil {
		return err
	}
	printer(cmd).Success("deleted " + args[0])
	return nil
}

func runFlowsDuplicate(cmd *cobra.Command, args []string) error {
	dup, err := client().duplicate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printer(cmd).Success(fmt.Sprintf("duplicated %s as %s", args[0], dup.ID))
	return nil
}

func runFlowsLoad(cmd *cobra.Command, args []string) error {
	flows, err := loadSeed(args[0])
	if err != nil {
		return err
	}
	snaps := make([]flow.Snapshot, len(flows))
	for i, f := range flows {
		snaps[i] = flow.Describe(f)
	}
	n, err := client().load(cmd.Context(), snaps)
	if err != nil {
		return err
	}
	printer(cmd).Success(fmt.Sprintf("loaded %d flows", n))
	return nil
}
