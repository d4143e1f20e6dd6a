package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/connexto/msgbridge/internal/di"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	app, cleanup, err := di.InitializeApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		return 1
	}
	defer cleanup()

	app.Logger.Info("Starting Messaging Bridge",
		"version", di.Version,
		"env", app.Config.Server.Env,
		"store", app.Config.Store.Backend,
		"alertChannels", app.Alerts.ChannelCount(),
		"businessApp", app.AppClient.Enabled(),
	)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		app.Relay.Run(app.Engine.Events())
	}()

	if err := app.Engine.Start(context.Background()); err != nil {
		app.Logger.Error("Failed to start session engine", "error", err)
		return 1
	}

	app.Server.Register(
		app.HealthHandler,
		app.SessionHandler,
		app.RealtimeHandler,
		app.SSEHandler,
		app.SwaggerHandler,
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		app.Logger.Info("Received signal", "signal", sig.String())
	case event := <-app.Engine.Fatal():
		app.Logger.Error("Session engine requires a process restart",
			"externalIdentity", event.ExternalIdentity,
			"accounts", event.AccountIDs,
			"reason", event.Message,
		)
		exitCode = 1
	case err := <-serverErr:
		app.Logger.Error("Server error", "error", err)
		exitCode = 1
	}

	if err := app.Server.Shutdown(app.Config.Server.ShutdownTimeout); err != nil {
		app.Logger.Error("Server forced to shutdown", "error", err)
	}

	app.Engine.Stop()
	<-relayDone

	app.Logger.Info("Server stopped")
	return exitCode
}
