// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListCountersParams takes no arguments
type ListCountersParams struct{}

// ReadCountersParams selects the events and CPUs to report
type ReadCountersParams struct {
	Event string `json:"event,omitempty" jsonschema:"Substring of the event names to report (default: all)"`
	CPU   *int   `json:"cpu,omitempty" jsonschema:"Only report this CPU"`
}

// ReadDerivedParams selects the derived counters to report
type ReadDerivedParams struct {
	Name string `json:"name,omitempty" jsonschema:"Substring of the derived counter names to report (default: all)"`
}

const discardedText = "Sample discarded: counters were paused or resumed since the last read, read again for live values\n"

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (s *Server) handleListCounters(_ context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[ListCountersParams]) (*mcp.CallToolResultFor[any], error) {
	var b strings.Builder
	events := s.source.Events()
	fmt.Fprintf(&b, "Events (%d):\n", len(events))
	for _, e := range events {
		fmt.Fprintf(&b, "  %s\n", e)
	}

	derived := s.source.Derived()
	fmt.Fprintf(&b, "Derived counters (%d):\n", len(derived))
	for _, d := range derived {
		fmt.Fprintf(&b, "  %s\n", d)
	}
	return textResult(b.String()), nil
}

func (s *Server) handleReadCounters(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ReadCountersParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	s.logger.Debug("Handling read_counters", "event", args.Event)

	snapshot, err := s.source.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	if !snapshot.Valid {
		return textResult(discardedText), nil
	}

	var b strings.Builder
	matched := 0
	for _, c := range snapshot.Counters {
		if !strings.Contains(c.Name, args.Event) {
			continue
		}
		matched++
		if c.Disabled {
			fmt.Fprintf(&b, "%s: disabled\n", c.Name)
			continue
		}

		var total uint64
		var lines strings.Builder
		for _, d := range c.Data {
			if args.CPU != nil && d.CPU != *args.CPU {
				continue
			}
			total += d.Value
			fmt.Fprintf(&lines, "  cpu %d: %d (running %.1f%%)\n", d.CPU, d.Value, d.DutyCycle()*100)
		}
		fmt.Fprintf(&b, "%s: total %d\n%s", c.Name, total, lines.String())
	}
	if matched == 0 {
		return nil, fmt.Errorf("no event matches %q", args.Event)
	}
	return textResult(b.String()), nil
}

func (s *Server) handleReadDerived(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ReadDerivedParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments

	snapshot, err := s.source.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	if !snapshot.Valid {
		return textResult(discardedText), nil
	}

	var b strings.Builder
	matched := 0
	for _, d := range snapshot.Derived {
		if !strings.Contains(d.Name, args.Name) {
			continue
		}
		matched++
		fmt.Fprintf(&b, "%s:\n", d.Name)
		for i, v := range d.Values {
			fmt.Fprintf(&b, "  instance %d: %.2f\n", i, v)
		}
	}
	if matched == 0 {
		return nil, fmt.Errorf("no derived counter matches %q", args.Name)
	}
	return textResult(b.String()), nil
}
