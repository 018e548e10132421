package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ruteri/seedless-backup/api/backuphandler"
	"github.com/ruteri/seedless-backup/cmd/flags"
	"github.com/ruteri/seedless-backup/httpserver"
	"github.com/ruteri/seedless-backup/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "backupserver",
		Usage: "Serve the seedless backup data API",
		Flags: flags.ServerFlags("backupserver",
			&cli.StringFlag{
				Name:    flags.PrimaryBackupFlag.Name,
				EnvVars: flags.PrimaryBackupFlag.EnvVars,
				Value:   "file:///var/lib/seedless/backups",
				Usage:   flags.PrimaryBackupFlag.Usage,
			},
			flags.SecondaryBackupFlag,
		),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx, cancel := context.WithTimeout(cCtx.Context, 30*time.Second)
			defer cancel()

			store, err := storage.NewFactory(logger).Fallback(ctx,
				cCtx.String(flags.PrimaryBackupFlag.Name),
				cCtx.String(flags.SecondaryBackupFlag.Name))
			if err != nil {
				logger.Error("Failed to configure backup backends", "err", err)
				return err
			}
			logger.Info("Backup store configured", "store", store.Name())

			server := httpserver.New(flags.ConfigureServer(cCtx, logger), backuphandler.NewHandler(store, logger))
			server.RunInBackground()

			flags.WaitForSignal(logger)
			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
