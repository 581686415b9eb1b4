// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// maxURLWidth truncates long URLs in styled tables.
const maxURLWidth = 60

// FlowRow is one line of a flow table.
type FlowRow struct {
	Index       int
	ID          string
	Method      string
	URL         string
	StatusCode  int
	Error       string
	Intercepted bool
}

// StatusText is the status column: the code, "err", or "..." while the
// flow is still waiting for a response.
func (r FlowRow) StatusText() string {
	switch {
	case r.Error != "":
		return "err"
	case r.StatusCode > 0:
		return strconv.Itoa(r.StatusCode)
	default:
		return "..."
	}
}

// Icon summarises the flow's state.
func (r FlowRow) Icon() Icon {
	switch {
	case r.Error != "" || r.StatusCode >= 500:
		return IconError
	case r.Intercepted:
		return IconPending
	case r.StatusCode >= 400:
		return IconWarning
	case r.StatusCode > 0:
		return IconSuccess
	default:
		return IconArrow
	}
}

// FlowTable prints rows under a title. Plain output is one tab separated
// line per flow: index, id, method, status, intercepted, url.
func (p *Printer) FlowTable(title string, rows []FlowRow) {
	if p.plain {
		for _, r := range rows {
			fmt.Fprintf(p.out, "%d\t%s\t%s\t%s\t%t\t%s\n",
				r.Index, r.ID, r.Method, r.StatusText(), r.Intercepted, r.URL)
		}
		return
	}

	fmt.Fprintln(p.out, Styles.Title.Render(title))
	if len(rows) == 0 {
		fmt.Fprintln(p.out, Styles.Muted.Render("  no flows"))
		return
	}

	idxW, methodW := len("#"), len("METHOD")
	for _, r := range rows {
		idxW = max(idxW, len(strconv.Itoa(r.Index)))
		methodW = max(methodW, len(r.Method))
	}

	header := fmt.Sprintf("  %s %-*s  %-*s  %-6s  %s",
		" ", idxW, "#", methodW, "METHOD", "STATUS", "URL")
	fmt.Fprintln(p.out, Styles.Header.Render(header))

	for _, r := range rows {
		status := r.StatusText()
		statusStyle := Styles.Muted
		switch r.Icon() {
		case IconError:
			statusStyle = Styles.Error
		case IconWarning:
			statusStyle = Styles.Warning
		case IconSuccess:
			statusStyle = Styles.Success
		}
		fmt.Fprintf(p.out, "  %s %-*d  %s  %s  %s\n",
			r.Icon().Render(),
			idxW, r.Index,
			Styles.Bold.Render(pad(r.Method, methodW)),
			statusStyle.Render(pad(status, 6)),
			truncate(r.URL, maxURLWidth),
		)
	}
}

// Stats prints flow counts.
func (p *Printer) Stats(total, view, active, openViews int, filterText string) {
	if p.plain {
		fmt.Fprintf(p.out, "STATS: total=%d view=%d active=%d views=%d filter=%q\n",
			total, view, active, openViews, filterText)
		return
	}
	shown := filterText
	if shown == "" {
		shown = Styles.Muted.Render("(none)")
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		fmt.Sprintf("%s %d", Styles.Muted.Render("flows "), total),
		fmt.Sprintf("%s %d", Styles.Muted.Render("view  "), view),
		fmt.Sprintf("%s %d", Styles.Muted.Render("active"), active),
		fmt.Sprintf("%s %d", Styles.Muted.Render("views "), openViews),
		fmt.Sprintf("%s %s", Styles.Muted.Render("filter"), shown),
	)
	p.Box("Flow state", body)
}

// BatchFailure is one flow an accept_all or kill_all could not handle.
type BatchFailure struct {
	ID    string
	Error string
}

// Batch prints the outcome of a bulk action.
func (p *Printer) Batch(op string, attempted int, failed []BatchFailure) {
	if len(failed) == 0 {
		p.Success(fmt.Sprintf("%s: %d flows", op, attempted))
		return
	}
	p.Warning(fmt.Sprintf("%s: %d of %d flows failed", op, len(failed), attempted))
	for _, f := range failed {
		if p.plain {
			fmt.Fprintf(p.out, "FAILED\t%s\t%s\n", f.ID, f.Error)
			continue
		}
		fmt.Fprintf(p.out, "  %s %s %s\n", IconError.Render(), f.ID, Styles.Muted.Render(f.Error))
	}
}

func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
