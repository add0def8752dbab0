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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/graph"
)

var (
	diagramOut string

	diagramCmd = &cobra.Command{
		Use:   "diagram",
		Short: "Print the decision graph as a Mermaid state diagram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := graph.MermaidDiagram()
			if diagramOut == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), d)
				return err
			}
			if err := os.WriteFile(diagramOut, []byte(d), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", diagramOut)
			return nil
		},
	}
)

func init() {
	diagramCmd.Flags().StringVar(&diagramOut, "out", "", "write the diagram to this file instead of stdout")
}
