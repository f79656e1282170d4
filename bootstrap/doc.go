// Package bootstrap assembles a logwarden App from a config file: the SQLite
// event store, the rule engine, the isolation forest pipeline and the
// background job pool. The HTTP API is only built by App.Start.
//
// Build order matters. Storage comes first so the model manager can load a
// persisted model, and the run lock picks Redis only when redis.enabled is
// set. NewAppWithConfig undoes partial construction on error.
//
// One-shot CLI commands call the Service directly and never Start the App.
// The serve command does:
//
//	app, err := bootstrap.NewApp(ctx, configPath)
//	if err != nil {
//	    return err
//	}
//	defer app.Shutdown()
//	if err := app.Start(ctx); err != nil {
//	    return err
//	}
//	return app.WaitForShutdown(ctx)
package bootstrap
