package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sentinelqa/actor"
	"sentinelqa/errcode"
	"sentinelqa/llm"
	"sentinelqa/runner"
	"sentinelqa/runner/finiterunner"
	"sentinelqa/runner/pool"
	iox "sentinelqa/utils/io"
	"sentinelqa/utils/printx"
	"sentinelqa/verify"
)

var runFlags struct {
	instruction    string
	assertionsPath string
	expectURLs     []string
	logPath        string
}

var runCmd = &cobra.Command{
	Use:   "run <url>...",
	Short: "Test one or more pages autonomously",
	Long: "Drives a browser toward the instruction on every given page, then checks the\n" +
		"assertions. Several URLs run concurrently, each in its own browser.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}
		cfg.Completion.ExpectedURLs = append(cfg.Completion.ExpectedURLs, runFlags.expectURLs...)
		assertions, err := loadAssertions(runFlags.assertionsPath)
		if err != nil {
			return err
		}
		h, err := newHarness()
		if err != nil {
			return err
		}
		defer h.Close()

		models := llm.AllModels(cfg.Decision.APIKey, cfg.OpenAIOptions())
		newActor := func(*pool.Job) (actor.Actor, error) {
			return actor.ByID(actor.ActorStrategyID(cfg.Decision.Strategy), &actor.Options{
				Models:          &models,
				ChatModelID:     llm.ChatModelID(cfg.Decision.Model),
				MaxDigestTokens: cfg.Decision.MaxDigestTokens,
				HistoryLength:   cfg.Decision.HistoryLength,
				Logger:          log,
			})
		}

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			act, err := newActor(nil)
			if err != nil {
				return errcode.Wrap(err, errcode.ConfigInvalid, "actor")
			}
			page, _ := newPage(cmd.Context())
			defer page.Close()
			r := finiterunner.New(page, act, h.resolver, h.detector(), h.engine,
				h.runnerOptions("", runner.SessionKindRun, assertions))
			state, err := streamSession(cmd.Context(), out, r, args[0], runFlags.instruction)
			if state == nil {
				return err
			}
			printSummary(out, state)
			if err := writeSessionLog(runFlags.logPath, state, r.Trajectory()); err != nil {
				log.Warn("failed to write session log", zap.Error(err))
			}
			if err != nil {
				return err
			} else if !passed(state) {
				return errSessionsFailed
			}
			return nil
		}

		jobs := make([]*pool.Job, 0, len(args))
		for _, url := range args {
			jobs = append(jobs, &pool.Job{
				Kind:        runner.SessionKindRun,
				StartURL:    url,
				Instruction: runFlags.instruction,
				Assertions:  assertions,
			})
		}
		results, err := pool.New(newPage, newActor, h.poolOptions()).Run(cmd.Context(), jobs)
		printResults(cmd, results)
		if err != nil {
			return err
		} else if err := pool.Err(results); err != nil {
			return err
		} else if len(pool.Failed(results)) > 0 {
			return errSessionsFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.instruction, "instruction", "i", "", "what the session should accomplish")
	runCmd.Flags().StringVarP(&runFlags.assertionsPath, "assertions", "a", "", "YAML file with the assertions checked at the end")
	runCmd.Flags().StringSliceVar(&runFlags.expectURLs, "expect-url", nil, "URL substring that marks the goal as reached")
	runCmd.Flags().StringVar(&runFlags.logPath, "log-path", "", "directory to write session state and trajectory to")
	runCmd.MarkFlagRequired("instruction")
}

func loadAssertions(path string) ([]verify.Assertion, error) {
	if path == "" {
		return nil, nil
	}
	var file struct {
		Assertions []verify.Assertion `yaml:"assertions"`
	}
	if err := iox.ReadStructuredFile(path, &file); err != nil {
		return nil, errcode.Wrap(err, errcode.ConfigInvalid, "assertions")
	}
	for i, a := range file.Assertions {
		if !a.Kind.Valid() {
			return nil, errcode.Newf(errcode.ConfigInvalid, "assertion %d has unknown kind %q", i, a.Kind)
		}
	}
	return file.Assertions, nil
}

func printResults(cmd *cobra.Command, results []*pool.Result) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		row := []string{"-", r.Job.StartURL, "-", "-", "-"}
		if r.State != nil {
			row[0], row[2] = r.State.ID, string(r.Summary.Status)
			row[3] = fmt.Sprintf("%d/%d", r.Summary.VerificationsPassed, r.Summary.VerificationsTotal)
			row[4] = r.Summary.Summary
			if r.Summary.BugSummary != "" {
				row[4] = r.Summary.BugSummary
			}
		} else if r.Err != nil {
			row[4] = r.Err.Error()
		}
		rows = append(rows, row)
		if err := writeSessionLog(runFlags.logPath, r.State, nil); err != nil {
			log.Warn("failed to write session log", zap.Error(err))
		}
	}
	printx.PrintStandardHeader(out, "RESULTS")
	if err := printx.PrintTable(out, []string{"SESSION", "URL", "STATUS", "VERIFIED", "SUMMARY"}, rows); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
