package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/jobphaser/api"
	"github.com/boshu2/jobphaser/client"
	"github.com/boshu2/jobphaser/dgram"
	"github.com/boshu2/jobphaser/event"
	"github.com/boshu2/jobphaser/lifecycle"
	"github.com/boshu2/jobphaser/match"
)

var stopCmd = &cobra.Command{
	Use:   "stop <pattern>",
	Short: "Stop matching instances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(socketDir(cmd))
		criteria := match.Criteria{ID: []match.IDCriterion{match.ParseIDPattern(args[0], match.StrategyFnMatch)}}
		results, srvErrs, err := c.StopJobs(cmd.Context(), criteria)
		if err != nil {
			return err
		}
		for _, r := range results {
			cmd.Printf("%s@%s: %s\n", r.Metadata.JobID, r.Metadata.InstanceID, r.Result)
		}
		printServerErrors(cmd, srvErrs)
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release waiting instances",
}

var releaseWaitingCmd = &cobra.Command{
	Use:   "waiting <state> [pattern]",
	Short: "Release instances waiting in the given state (PENDING, WAITING, IN_QUEUE)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, ok := lifecycle.ParseRunState(args[0])
		if !ok || !state.IsWaiting() {
			return fmt.Errorf("not a waiting state: %s", args[0])
		}
		var criteria match.Criteria
		if len(args) > 1 {
			criteria.ID = []match.IDCriterion{match.ParseIDPattern(args[1], match.StrategyFnMatch)}
		}
		c := client.New(socketDir(cmd))
		results, srvErrs := c.ReleaseWaitingJobs(cmd.Context(), criteria, state)
		printReleased(cmd, results)
		printServerErrors(cmd, srvErrs)
		return nil
	},
}

var releasePendingCmd = &cobra.Command{
	Use:   "pending <group> [pattern]",
	Short: "Release instances of the named pending group",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(socketDir(cmd))
		results, srvErrs := c.ReleasePendingJobs(cmd.Context(), args[0], criteriaFromArgs(args[1:]))
		printReleased(cmd, results)
		printServerErrors(cmd, srvErrs)
		return nil
	},
}

func init() {
	releaseCmd.AddCommand(releaseWaitingCmd)
	releaseCmd.AddCommand(releasePendingCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(releaseCmd)
}

func printReleased(cmd *cobra.Command, results []client.ReleaseResult) {
	for _, r := range results {
		cmd.Printf("%s@%s: released=%t\n", r.Metadata.JobID, r.Metadata.InstanceID, r.Released)
	}
}

func dgramClient() *dgram.Client { return dgram.NewClient() }

func socketExtensions() []string {
	return []string{api.Extension, event.ExtTransition, event.ExtOutput}
}
