// Package main (cmd/tokenserver) issues per-realm tokens.
//
// POST /create-jwt exchanges a signed-in user's email for an HS256 token
// scoped to one realm. Each realm's key is shared only with that realm.
package main

import (
	"log"
	"os"
	"time"

	"github.com/ruteri/seedless-backup/api/tokenhandler"
	"github.com/ruteri/seedless-backup/cmd/flags"
	"github.com/ruteri/seedless-backup/httpserver"
	"github.com/ruteri/seedless-backup/realms"
	"github.com/urfave/cli/v2"
)

var (
	appNamesFlag = &cli.StringSliceFlag{
		Name:  "app-name",
		Value: cli.NewStringSlice(realms.DefaultAppName),
		Usage: "application names tokens may be issued for (repeatable)",
	}
	ttlFlag = &cli.DurationFlag{
		Name:  "token-ttl",
		Value: 10 * time.Minute,
		Usage: "lifetime of issued tokens",
	}
)

func main() {
	app := &cli.App{
		Name:  "tokenserver",
		Usage: "Issue per-realm tokens for signed-in users",
		Flags: flags.ServerFlags("tokenserver", flags.RealmKeysFlag, flags.TokenIssuerFlag, appNamesFlag, ttlFlag),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			keys, err := flags.ParseRealmKeys(cCtx.StringSlice(flags.RealmKeysFlag.Name))
			if err != nil {
				return err
			}

			authority := tokenhandler.NewAuthority(cCtx.String(flags.TokenIssuerFlag.Name), cCtx.Duration(ttlFlag.Name), keys)
			handler := tokenhandler.NewHandler(authority, cCtx.StringSlice(appNamesFlag.Name), logger)

			server := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			logger.Info("Issuing tokens", "realms", len(keys))
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
