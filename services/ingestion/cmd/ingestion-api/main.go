package main

import (
	"context"
	"log"

	"jobwatch/services/ingestion/internal/app"

	"go.uber.org/fx"
)

func main() {
	fxApp := fx.New(
		app.Module,
		fx.Invoke(
			app.RegisterHTTPServer,
			app.AutoStartScheduler,
		),
	)

	if err := fxApp.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	sig := <-fxApp.Wait()

	if err := fxApp.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
	if sig.ExitCode != 0 {
		log.Fatalf("exiting with code %d", sig.ExitCode)
	}
}
