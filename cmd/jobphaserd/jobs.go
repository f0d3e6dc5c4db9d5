package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/jobphaser/client"
	"github.com/boshu2/jobphaser/match"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [pattern]",
	Short: "List running instances on this host",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(socketDir(cmd))
		runs, srvErrs := c.ReadInstances(cmd.Context(), criteriaFromArgs(args))

		type row struct {
			JobID      string `json:"job_id" yaml:"job_id"`
			InstanceID string `json:"instance_id" yaml:"instance_id"`
			Phase      string `json:"phase" yaml:"phase"`
			State      string `json:"state" yaml:"state"`
			Status     string `json:"status,omitempty" yaml:"status,omitempty"`
		}
		rows := make([]row, 0, len(runs))
		for _, jr := range runs {
			r := row{JobID: jr.Metadata.JobID, InstanceID: jr.Metadata.InstanceID}
			if curr := jr.Run.Lifecycle.Current(); curr != nil {
				r.Phase = curr.PhaseName
				r.State = curr.RunState.String()
			}
			if jr.Run.Termination != nil {
				r.Status = jr.Run.Termination.Status.String()
			}
			rows = append(rows, r)
		}
		if err := printFormatted(cmd, rows); err != nil {
			return err
		}
		printServerErrors(cmd, srvErrs)
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail [pattern]",
	Short: "Show the captured output tail of matching instances",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(socketDir(cmd))
		tails, srvErrs := c.ReadTail(cmd.Context(), criteriaFromArgs(args))
		for _, tail := range tails {
			cmd.Printf("%s@%s:\n", tail.Metadata.JobID, tail.Metadata.InstanceID)
			for _, line := range tail.Lines {
				marker := " "
				if line.IsError {
					marker = "!"
				}
				cmd.Printf("  %s [%s] %s\n", marker, line.Phase, line.Text)
			}
		}
		printServerErrors(cmd, srvErrs)
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stale socket files left behind by crashed processes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := socketDir(cmd)
		dg := dgramClient()
		for _, ext := range socketExtensions() {
			if err := dg.Cleanup(dir, ext, time.Second); err != nil {
				return fmt.Errorf("cleanup %s: %w", ext, err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(cleanCmd)
}

func criteriaFromArgs(args []string) *match.Criteria {
	if len(args) == 0 {
		return nil
	}
	return &match.Criteria{ID: []match.IDCriterion{match.ParseIDPattern(args[0], match.StrategyFnMatch)}}
}

func printFormatted(cmd *cobra.Command, v any) error {
	switch output {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
	default:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		cmd.Print(string(data))
	}
	return nil
}

func printServerErrors(cmd *cobra.Command, srvErrs []client.ServerError) {
	for _, e := range srvErrs {
		cmd.PrintErrf("server %s: %s: %s\n", e.ServerID, e.Kind, e.Detail)
	}
}
