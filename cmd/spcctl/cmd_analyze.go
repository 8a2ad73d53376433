package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/limits"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

type evaluateResult struct {
	Limits          rules.ControlLimits           `json:"limits"`
	Derived         bool                          `json:"derived"`
	Report          *rules.EvaluationReport       `json:"report"`
	Spans           map[rules.RuleID][]rules.Span `json:"spans"`
	Recommendations []string                      `json:"recommendations"`
}

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	var (
		center, ucl, lcl float64
		span             int
		failOnViolation  bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate [file]",
		Short: "Check a series against the eight Western Electric rules",
		Long: `Reads numbers from a file (or stdin) and evaluates them. Without
--center/--ucl/--lcl the limits are derived from the data with an
individuals and moving range chart.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(argOrEmpty(args), cmd.InOrStdin())
			if err != nil {
				return err
			}
			values, err := parseValues(data)
			if err != nil {
				return err
			}

			res := evaluateResult{}
			f := cmd.Flags()
			switch set := f.Changed("center") || f.Changed("ucl") || f.Changed("lcl"); {
			case set && !(f.Changed("center") && f.Changed("ucl") && f.Changed("lcl")):
				return usageErrorf("--center, --ucl and --lcl must be given together")
			case set:
				res.Limits = rules.ControlLimits{CenterLine: center, UCL: ucl, LCL: lcl}
			default:
				imr, err := limits.IndividualsMR(values, span)
				if err != nil {
					return fmt.Errorf("derive limits: %w", err)
				}
				res.Limits = imr.Limits()
				res.Derived = true
			}
			if err := res.Limits.Validate(); err != nil {
				return err
			}

			res.Report, err = rules.EvaluateLimits(values, res.Limits)
			if err != nil {
				return err
			}
			res.Recommendations = rules.RecommendedActions(res.Report.Violations)
			res.Spans = make(map[rules.RuleID][]rules.Span)
			for _, id := range rules.AllRules {
				if s := res.Report.Rule(id).Spans(); len(s) > 0 {
					res.Spans[id] = s
				}
			}

			out := cmd.OutOrStdout()
			if g.jsonOut {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				title := "Control limits"
				if res.Derived {
					title += " (derived, I-MR)"
				}
				renderLimits(out, title, res.Limits)
				renderReport(out, len(values), res.Report, res.Recommendations)
			}
			if failOnViolation && res.Report.HasViolations {
				return errViolations
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&center, "center", 0, "center line")
	cmd.Flags().Float64Var(&ucl, "ucl", 0, "upper control limit")
	cmd.Flags().Float64Var(&lcl, "lcl", 0, "lower control limit")
	cmd.Flags().IntVar(&span, "span", limits.DefaultSpan, "moving range span when deriving limits")
	cmd.Flags().BoolVar(&failOnViolation, "fail", false, "exit with status 1 when any rule is violated")
	return cmd
}

func newLimitsCmd(g *globalFlags) *cobra.Command {
	var (
		method       string
		span         int
		k            float64
		subgroupSize int
	)
	cmd := &cobra.Command{
		Use:   "limits [file]",
		Short: "Compute control limits (imr, xbar-r or sigma)",
		Long: `Computes control limits from historical data.

  imr     individuals and moving range chart (default)
  xbar-r  X-bar and R chart; one subgroup per line, or --subgroup-size
  sigma   mean ± k standard deviations`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(argOrEmpty(args), cmd.InOrStdin())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch method {
			case "imr":
				values, err := parseValues(data)
				if err != nil {
					return err
				}
				res, err := limits.IndividualsMR(values, span)
				if err != nil {
					return err
				}
				if g.jsonOut {
					return writeJSON(out, res)
				}
				renderLimits(out, "Individuals chart", res.Limits())
				renderLimits(out, fmt.Sprintf("Moving range chart (span %d)", res.MovingRangeSpan), res.MovingRange.Limits())
			case "xbar-r":
				groups, err := parseSubgroups(data, subgroupSize)
				if err != nil {
					return err
				}
				res, err := limits.XBarR(groups)
				if err != nil {
					return err
				}
				if g.jsonOut {
					return writeJSON(out, res)
				}
				renderLimits(out, fmt.Sprintf("X-bar chart (%d subgroups of %d)", len(groups), res.SubgroupSize), res.Limits())
				renderLimits(out, "Range chart", res.Range.Limits())
			case "sigma":
				values, err := parseValues(data)
				if err != nil {
					return err
				}
				res, err := limits.Sigma(values, k)
				if err != nil {
					return err
				}
				if g.jsonOut {
					return writeJSON(out, res)
				}
				renderLimits(out, fmt.Sprintf("Mean ± %g sigma", k), res.Limits(),
					row("Sample std dev", fmt.Sprintf("%.4f", res.StdDev)))
			default:
				return usageErrorf("unknown method %q, want imr, xbar-r or sigma", method)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "imr", "imr, xbar-r or sigma")
	cmd.Flags().IntVar(&span, "span", limits.DefaultSpan, "moving range span (imr)")
	cmd.Flags().Float64VarP(&k, "k", "k", limits.DefaultSigma, "number of standard deviations (sigma)")
	cmd.Flags().IntVar(&subgroupSize, "subgroup-size", 0, "split a flat series into subgroups (xbar-r)")
	return cmd
}

type capabilityResult struct {
	Result   capability.Result         `json:"result"`
	Interval *capability.Interval      `json:"cpkInterval,omitempty"`
	Machine  *capability.MachineResult `json:"machine,omitempty"`
}

func newCapabilityCmd(g *globalFlags) *cobra.Command {
	var (
		usl, lsl, target, confidence float64
		machine                      bool
	)
	cmd := &cobra.Command{
		Use:   "capability [file]",
		Short: "Compute Cp, Cpk, Pp, Ppk and related indices",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("usl") || !cmd.Flags().Changed("lsl") {
				return usageErrorf("--usl and --lsl are required")
			}
			data, err := readInput(argOrEmpty(args), cmd.InOrStdin())
			if err != nil {
				return err
			}
			values, err := parseValues(data)
			if err != nil {
				return err
			}

			spec := capability.SpecLimits{USL: usl, LSL: lsl}
			var opts []capability.Option
			if cmd.Flags().Changed("target") {
				opts = append(opts, capability.WithTarget(target))
			}
			res, err := capability.Analyze(values, spec, opts...)
			if err != nil {
				return err
			}
			out := capabilityResult{Result: res}
			if confidence > 0 {
				ci, err := capability.CpkConfidenceInterval(res.Cpk, res.N, confidence)
				if err != nil {
					return err
				}
				out.Interval = &ci
			}
			if machine {
				m, err := capability.Machine(values, spec)
				if err != nil {
					return err
				}
				out.Machine = &m
			}

			w := cmd.OutOrStdout()
			if g.jsonOut {
				return writeJSON(w, out)
			}
			renderCapability(w, res, out.Interval)
			if out.Machine != nil {
				fmt.Fprintf(w, "Machine capability: Cm %.3f, Cmk %.3f\n", out.Machine.Cm, out.Machine.Cmk)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&usl, "usl", 0, "upper specification limit")
	cmd.Flags().Float64Var(&lsl, "lsl", 0, "lower specification limit")
	cmd.Flags().Float64Var(&target, "target", 0, "process target (default midpoint of the specification)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.95, "Cpk confidence level: 0.90, 0.95 or 0.99 (0 disables)")
	cmd.Flags().BoolVar(&machine, "machine", false, "also compute machine capability (needs 50 values)")
	return cmd
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
