// Package cmd provides the logwarden command-line interface.
package cmd

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"logwarden/bootstrap"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const defaultTimeout = 10 * time.Minute // per CLI operation

// options are the persistent flags shared by every command.
type options struct {
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool

	// newApp builds the application; tests substitute their own.
	newApp func(ctx context.Context, configPath string) (*bootstrap.App, error)
}

// NewRootCmd creates the logwarden command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{newApp: bootstrap.NewApp})
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "logwarden",
		Short: "Rule and anomaly detection over access logs",
		Long: `logwarden inspects stored access events two ways: user-defined rules
that raise alerts on matching events, and an isolation-forest model that flags
unusual activity. Both feed one unified, severity-ranked alert timeline.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Suppress non-essential output")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newRulesCmd(opts))
	root.AddCommand(newAlertsCmd(opts))
	root.AddCommand(newAnomaliesCmd(opts))
	root.AddCommand(newUnifiedCmd(opts))

	return root
}

// withApp builds the application, runs fn and shuts the application down.
func (o *options) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	app, err := o.newApp(ctx, o.configFile)
	if err != nil {
		return err
	}
	defer app.Shutdown()
	return fn(ctx, app)
}

// spin starts a progress spinner on w unless output is machine-readable.
// The returned func stops it.
func (o *options) spin(w io.Writer, suffix string) func() {
	if o.outputJSON || o.quiet {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

// outputAsJSON writes data as indented JSON.
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
