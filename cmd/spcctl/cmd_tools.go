package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/config"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/parser"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/source"
)

func newSimulateCmd(g *globalFlags) *cobra.Command {
	var (
		p    source.Process
		n    int
		seed uint64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate a synthetic measurement series",
		Long: `Prints n normally distributed readings, one per line, optionally with
random shifts and a steady drift. The output can be piped into evaluate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return usageErrorf("--n must be positive")
			}
			sim := source.NewSimulator(seed)
			if err := sim.AddProcess("sim", p); err != nil {
				return err
			}
			values, err := sim.Generate("sim", n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return writeJSON(out, values)
			}
			for _, v := range values {
				fmt.Fprintf(out, "%.4f\n", v)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&p.Mean, "mean", 100, "process mean")
	cmd.Flags().Float64Var(&p.StdDev, "stddev", 1, "process standard deviation")
	cmd.Flags().Float64Var(&p.ShiftProbability, "shift", 0, "probability of a 1-4 sigma shift per reading")
	cmd.Flags().Float64Var(&p.Drift, "drift", 0, "amount added to the mean after every reading")
	cmd.Flags().IntVarP(&n, "n", "n", 100, "number of readings")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	return cmd
}

type policyCheck struct {
	Name  string `json:"name"`
	File  string `json:"file"`
	Nodes int    `json:"nodes"`
	Error string `json:"error,omitempty"`
}

func newPolicyCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with alert policy files",
	}

	var maxNodes int
	check := &cobra.Command{
		Use:   "check <file|dir>...",
		Short: "Parse policy files and report syntax errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandPolicyArgs(args)
			if err != nil {
				return err
			}
			var results []policyCheck
			failed := 0
			for _, f := range files {
				res := policyCheck{Name: strings.TrimSuffix(filepath.Base(f), config.PolicyExt), File: f}
				src, err := os.ReadFile(f)
				if err != nil {
					return err
				}
				prog, err := parser.Parse(string(src))
				switch {
				case err != nil:
					res.Error = err.Error()
				case prog.CountNodes() > maxNodes:
					res.Nodes = prog.CountNodes()
					res.Error = fmt.Sprintf("policy complexity (%d nodes) exceeds limit (%d)", res.Nodes, maxNodes)
				default:
					res.Nodes = prog.CountNodes()
				}
				if res.Error != "" {
					failed++
				}
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			if g.jsonOut {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Error == "" {
						fmt.Fprintf(out, "%s %s %s\n", styles.OK.Render("ok"), r.File, styles.Muted.Render(fmt.Sprintf("(%d nodes)", r.Nodes)))
						continue
					}
					fmt.Fprintf(out, "%s %s\n", severityStyle("critical").Render("FAIL"), r.File)
					for _, line := range strings.Split(r.Error, "\n") {
						fmt.Fprintf(out, "    %s\n", line)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d policies failed", failed, len(results))
			}
			return nil
		},
	}
	check.Flags().IntVar(&maxNodes, "max-nodes", spcwatch.DefaultResourceLimits().MaxPolicyComplexity, "maximum AST nodes per policy")
	cmd.AddCommand(check)
	return cmd
}

// expandPolicyArgs replaces directories with the policy files they contain.
func expandPolicyArgs(args []string) ([]string, error) {
	var files []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, a)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(a, "*"+config.PolicyExt))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files found", config.PolicyExt)
	}
	return files, nil
}
