// Package bootstrap wires a pvkit application from its configuration.
//
// NewApp initializes the global logger, installs OpenTelemetry providers
// when enabled, creates the provider named in the channel section and a
// channel.Client on it, and registers the client as a component. RunTask
// and Run drive the lifecycle and shut everything down gracefully:
//
//	cfg, _ := config.Load("beamline-monitor")
//	app, _ := bootstrap.NewApp(context.Background(), cfg)
//	err := app.RunTask(ctx, func(ctx context.Context, c *channel.Client) error {
//	    ch, err := c.Connect(ctx, "BL1:temperature")
//	    ...
//	})
package bootstrap
