package main

import (
	"context"
	"log"
	"os"

	"github.com/safatanc/safatanc-connect-core/internal/authctl"
	"github.com/safatanc/safatanc-connect-core/internal/server/config"
)

func main() {

	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := authctl.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	code := app.Run(ctx, authctl.CommandArgs(os.Args[1:]))
	if err := app.Close(); err != nil {
		log.Printf("close: %v", err)
	}
	os.Exit(code)

}
