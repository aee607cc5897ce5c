package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/buildorch/butido/app"
	"github.com/buildorch/butido/dispatch"
)

var buildViper = viper.New()

var buildCmd = &cobra.Command{
	Use:   "build NAME VERSION",
	Short: "Builds a package and every dependency it needs.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireButido(); err != nil {
			return err
		}

		opt := app.SubmitOptions{
			PackageName:    args[0],
			PackageVersion: args[1],
			Image:          buildViper.GetString("image"),
			RepoHash:       buildViper.GetString("repo-hash"),
			MaxInFlight:    buildViper.GetInt("max-in-flight"),
			MaxRetries:     buildViper.GetInt("max-retries"),
			JobTimeout:     buildViper.GetDuration("job-timeout"),
			MetricsPath:    buildViper.GetString("metrics"),
		}

		result, err := butido.Submit(context.Background(), opt)
		if err != nil {
			return err
		}
		if verdict := result.Verdict(); verdict != dispatch.Succeeded {
			return &buildFailed{verdict: verdict.String()}
		}
		return nil
	},
}

type buildFailed struct{ verdict string }

func (e *buildFailed) Error() string { return "build: submit finished with verdict " + e.verdict }

func init() {
	RootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("image", "", "image name (or short name) to build on")
	buildCmd.Flags().String("repo-hash", "", "git commit hash of the recipe repository at submit time")
	buildCmd.Flags().Int("max-in-flight", 0, "cap on jobs running across all endpoints at once (0 = unbounded)")
	buildCmd.Flags().Int("max-retries", 3, "endpoint-dispatch retries before a job is reported Errored")
	buildCmd.Flags().Duration("job-timeout", 0, "per-job runtime timeout (0 = no per-job timeout)")
	buildCmd.Flags().String("metrics", "", "path to write stampy metrics to")
	buildViper.BindPFlags(buildCmd.Flags())
}
