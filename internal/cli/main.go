package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := newRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, oneLine(err))
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "reelplan",
		Short:         "Plan rough cuts and overlay enrichment for a video project",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (default $REELPLAN_CONFIG or ./reelplan.toml)")
	pf.String("projects-dir", "", "Projects root directory")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: text|json")

	root.AddCommand(newRoughCutCommand(), newEnrichCommand(), newStatusCommand())
	return root
}

func newRoughCutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rough-cut <projectId>",
		Short: "Transcribe the source and plan ranges to remove",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoughCut(cmd, args[0])
		},
	}
	f := cmd.Flags()
	f.String("source", "", "Source video path")
	f.Int("fps", 30, "Timeline frame rate")
	f.String("mode", "", "Transcription mode: local|api|hybrid")
	f.String("fallback-policy", "", "Hybrid policy: local-first|api-first|local-only|api-only")
	f.String("language", "", "Spoken language hint (e.g. en)")
	f.String("model", "", "Transcription model override")
	f.String("cut-planner-model", "", "LLM model for cut planning (heuristic when empty)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newEnrichCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich <projectId>",
		Short: "Place overlay templates and stock b-roll on the timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(cmd, args[0])
		},
	}
	f := cmd.Flags()
	f.Int("fps", 30, "Timeline frame rate when a timeline has to be created")
	f.String("template-planner-model", "", "LLM model for template placement (heuristic when empty)")
	f.String("templates-dir", "", "Directory of template registrations")
	f.Bool("fetch-external", true, "Search and download stock media")
	f.Int("max-retries", -1, "Retries per asset network call (config default when negative)")
	return cmd
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <projectId>",
		Short: "Show job records and recent runs for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args[0])
		},
	}
	cmd.Flags().Int("limit", 10, "Number of recent runs to show")
	return cmd
}
