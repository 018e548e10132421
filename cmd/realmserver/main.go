// Package main (cmd/realmserver) serves one realm of the PIN-gated share store.
//
// A realm holds one Shamir share of each user's Share B and releases it only
// for a valid realm token and a matching PIN proof. Realm state is in memory.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ruteri/seedless-backup/api/realmhandler"
	"github.com/ruteri/seedless-backup/api/tokenhandler"
	"github.com/ruteri/seedless-backup/cmd/flags"
	"github.com/ruteri/seedless-backup/httpserver"
	"github.com/ruteri/seedless-backup/realms"
	"github.com/urfave/cli/v2"
)

var (
	realmIDFlag = &cli.StringFlag{
		Name:     "realm-id",
		EnvVars:  []string{"SEEDLESS_REALM_ID"},
		Required: true,
		Usage:    "identifier of the realm this server runs",
	}
	rateFlag = &cli.Float64Flag{
		Name:  "rate-per-second",
		Value: realmhandler.DefaultRateLimit.PerSecond,
		Usage: "sustained requests per second allowed per user",
	}
	burstFlag = &cli.IntFlag{
		Name:  "rate-burst",
		Value: realmhandler.DefaultRateLimit.Burst,
		Usage: "request burst allowed per user",
	}
)

func main() {
	app := &cli.App{
		Name:  "realmserver",
		Usage: "Serve one realm of the PIN-gated share store",
		Flags: flags.ServerFlags("realmserver", realmIDFlag, flags.RealmKeysFlag, flags.TokenIssuerFlag, rateFlag, burstFlag),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			realmID := cCtx.String(realmIDFlag.Name)

			keys, err := flags.ParseRealmKeys(cCtx.StringSlice(flags.RealmKeysFlag.Name))
			if err != nil {
				return err
			}
			key, ok := keys[realmID]
			if !ok {
				return fmt.Errorf("no signing key configured for realm %s", realmID)
			}

			// Tokens are only ever verified here, so the TTL is irrelevant.
			verifier := tokenhandler.NewAuthority(cCtx.String(flags.TokenIssuerFlag.Name), time.Minute, map[string][]byte{realmID: key})
			limit := realmhandler.RateLimit{
				PerSecond: cCtx.Float64(rateFlag.Name),
				Burst:     cCtx.Int(burstFlag.Name),
			}

			handler := realmhandler.NewHandler(realms.NewOracle(realmID, logger), verifier, limit, logger)
			server := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			logger.Info("Serving realm", "realm", realmID)
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
