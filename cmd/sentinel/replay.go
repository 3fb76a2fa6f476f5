package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sentinelqa/actor"
	"sentinelqa/errcode"
	"sentinelqa/instruction"
	"sentinelqa/recorder"
	"sentinelqa/runner"
	"sentinelqa/runner/finiterunner"
	"sentinelqa/trajectory"
	iox "sentinelqa/utils/io"
)

var replayFlags struct {
	file           string
	runID          string
	recordingID    string
	assertionsPath string
	logPath        string
}

var replayCmd = &cobra.Command{
	Use:   "replay [url]",
	Short: "Replay a recorded action list against a page",
	Long: "Replays the actions of a recording file, a stored run or a host-store recording.\n" +
		"The page defaults to the first navigation in the recording.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newHarness()
		if err != nil {
			return err
		}
		defer h.Close()

		actions, err := loadReplayActions(cmd, h)
		if err != nil {
			return err
		}
		startURL := replayStartURL(actions)
		if len(args) == 1 {
			startURL = args[0]
		}
		if startURL == "" {
			return errcode.New(errcode.ConfigInvalid, "the recording has no page to start from; pass a url")
		}
		assertions, err := loadAssertions(replayFlags.assertionsPath)
		if err != nil {
			return err
		}

		act, err := actor.ByID(actor.ActorStrategyIDReplay, &actor.Options{Recording: actions, Logger: log})
		if err != nil {
			return err
		}
		page, _ := newPage(cmd.Context())
		defer page.Close()
		r := finiterunner.New(page, act, h.resolver, h.detector(), h.engine,
			h.runnerOptions("", runner.SessionKindReplay, assertions))

		out := cmd.OutOrStdout()
		state, err := streamSession(cmd.Context(), out, r, startURL, instruction.Synthesize(actions, startURL))
		if state == nil {
			return err
		}
		printSummary(out, state)
		if err := writeSessionLog(replayFlags.logPath, state, r.Trajectory()); err != nil {
			log.Warn("failed to write session log", zap.Error(err))
		}
		if err != nil {
			return err
		} else if !passed(state) {
			return errSessionsFailed
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayFlags.file, "file", "f", "", "recording JSON written by the record command")
	replayCmd.Flags().StringVar(&replayFlags.runID, "run", "", "replay the actions of a stored run")
	replayCmd.Flags().StringVar(&replayFlags.recordingID, "recording", "", "replay a recording from the host store")
	replayCmd.Flags().StringVarP(&replayFlags.assertionsPath, "assertions", "a", "", "YAML file with the assertions checked at the end")
	replayCmd.Flags().StringVar(&replayFlags.logPath, "log-path", "", "directory to write session state and trajectory to")
	replayCmd.MarkFlagsMutuallyExclusive("file", "run", "recording")
	replayCmd.MarkFlagsOneRequired("file", "run", "recording")
}

func loadReplayActions(cmd *cobra.Command, h *harness) ([]trajectory.Action, error) {
	if replayFlags.file != "" {
		data, err := iox.ReadFile(replayFlags.file)
		if err != nil {
			return nil, errcode.Wrap(err, errcode.ConfigInvalid, "recording file")
		}
		var rec recorder.Recording
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, errcode.Wrap(err, errcode.ConfigInvalid, fmt.Sprintf("parse %s", replayFlags.file))
		}
		return rec.Actions, nil
	} else if replayFlags.runID != "" {
		return h.store.Actions(cmd.Context(), replayFlags.runID)
	}
	hostStore, err := recorder.OpenHostStore(cfg.Recorder.DBPath, nil)
	if err != nil {
		return nil, err
	}
	defer hostStore.Close()
	rec, err := hostStore.LoadRecording(replayFlags.recordingID)
	if err != nil {
		return nil, err
	} else if len(rec.Actions) == 0 {
		return nil, errcode.Newf(errcode.ConfigInvalid, "recording %s has no actions", replayFlags.recordingID)
	}
	return rec.Actions, nil
}

// replayStartURL is the first page the recording navigated to or acted on.
func replayStartURL(actions []trajectory.Action) string {
	for _, action := range actions {
		if nav, ok := action.(*trajectory.NavigateAction); ok && nav.URL != "" {
			return nav.URL
		} else if url := action.Meta().PageURL; url != "" {
			return url
		}
	}
	return ""
}
