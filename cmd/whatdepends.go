package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildorch/butido/recipe"
)

var whatDependsCmd = &cobra.Command{
	Use:   "what-depends NAME",
	Short: "Lists packages related to NAME by dependency, forward or reverse.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireButido(); err != nil {
			return err
		}
		reverse, _ := cmd.Flags().GetBool("reverse")
		name := recipe.PackageName(args[0])

		var edges []recipe.Edge
		if reverse {
			edges = recipe.WhatDependsOn(butido.Recipes, name)
		} else {
			var found recipe.Package
			var ok bool
			for _, p := range butido.Recipes.Packages() {
				if p.Name != name {
					continue
				}
				if !ok || found.Less(p) {
					found, ok = p, true
				}
			}
			if !ok {
				return fmt.Errorf("what-depends: package %s not found", name)
			}
			edges = recipe.DependsOn(butido.Recipes, found)
		}

		for _, e := range edges {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", e.From, e.To, e.Kind)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(whatDependsCmd)
	whatDependsCmd.Flags().Bool("reverse", false, "list packages that depend on NAME instead of NAME's own dependencies")
}
