package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thebtf/adaptly/internal/gating"
	"github.com/thebtf/adaptly/internal/scoring"
)

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := scoring.NewCalculator(cfg.ScoringConfig()); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	registry, err := gating.LoadFile(cfg.GatesPath)
	if err != nil {
		return fmt.Errorf("gates: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "settings ok (listen %s, db %s)\n", cfg.Addr(), cfg.DBDriver)
	fmt.Fprintf(out, "%d gates ok\n", registry.Len())
	for _, g := range registry.List() {
		fmt.Fprintf(out, "  %-20s %-10s %s\n", g.ID, g.Type, g.Introduction.Method)
	}
	return nil
}
