package cmd

import (
	"context"

	"logwarden/bootstrap"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd.Context(), opts.configFile)
			if err != nil {
				return err
			}
			defer app.Shutdown()
			return serve(cmd.Context(), app)
		},
	}
}

func serve(ctx context.Context, app *bootstrap.App) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.WaitForShutdown(ctx)
}
