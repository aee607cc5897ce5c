package cmd

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/buildorch/butido/app"
	"github.com/buildorch/butido/config"
)

var (
	cfgFile string
	butido  *app.Butido
	version string
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:           "butido",
	Short:         "Schedules package builds across a pool of container endpoints.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs RootCmd with every child command the package's init
// functions registered on it. Called once by main.main().
func Execute(v string) error {
	version = v
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.butido.yaml)")
	RootCmd.PersistentFlags().String("recipes", ".", "path to the recipe repository root")

	cobra.OnInitialize(initButido)
}

// initButido loads configuration and constructs the shared *app.Butido
// every subcommand's RunE closes over, mirroring the teacher's
// cobra.OnInitialize(initConfig) wiring in its own root.go.
func initButido() {
	v := config.New(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			configErr = err
			return
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		// Commands that don't need a live Butido (e.g. a future `version`)
		// would check butido == nil; every command registered today does
		// need it, so a load failure is reported lazily on first RunE.
		configErr = err
		return
	}

	recipesRoot, _ := RootCmd.PersistentFlags().GetString("recipes")
	b, err := app.New(context.Background(), cfg, recipesRoot, os.Stdout, version)
	if err != nil {
		configErr = err
		return
	}
	butido = b
}

// configErr holds a deferred initialization failure so each RunE can
// report it through cobra's normal error path instead of os.Exit-ing
// from an OnInitialize hook.
var configErr error

func requireButido() error {
	if configErr != nil {
		return configErr
	}
	if butido == nil {
		return errNotInitialized
	}
	return nil
}

var errNotInitialized = &initError{}

type initError struct{}

func (*initError) Error() string { return "butido: not initialized" }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
