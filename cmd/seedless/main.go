package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/seedless-backup/api/realmhandler"
	"github.com/ruteri/seedless-backup/api/tokenhandler"
	"github.com/ruteri/seedless-backup/cmd/flags"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/localvault"
	"github.com/ruteri/seedless-backup/orchestrator"
	"github.com/ruteri/seedless-backup/realms"
	"github.com/ruteri/seedless-backup/storage"
	"github.com/ruteri/seedless-backup/wallet"
	"github.com/urfave/cli/v2"
)

var (
	uidFlag = &cli.StringFlag{
		Name:     "uid",
		EnvVars:  []string{"SEEDLESS_UID"},
		Required: true,
		Usage:    "user id from the identity provider",
	}
	emailFlag = &cli.StringFlag{
		Name:     "email",
		EnvVars:  []string{"SEEDLESS_EMAIL"},
		Required: true,
		Usage:    "email address of the signed-in user",
	}
	pinFlag = &cli.StringFlag{
		Name:    "pin",
		EnvVars: []string{"SEEDLESS_PIN"},
		Usage:   "4-digit backup PIN",
	}
	passwordFlag = &cli.StringFlag{
		Name:    "password",
		EnvVars: []string{"SEEDLESS_PASSWORD"},
		Usage:   "local vault password",
	}
	walletFlag = &cli.StringFlag{
		Name:  "wallet-id",
		Usage: "wallet to operate on, defaults to the active wallet",
	}
	accountFlag = &cli.UintFlag{
		Name:  "account",
		Value: 0,
		Usage: "account index to derive",
	}
	showMnemonicFlag = &cli.BoolFlag{
		Name:  "show-mnemonic",
		Usage: "print the recovery phrase after create or recover",
	}
	vaultPathFlag = &cli.StringFlag{
		Name:    "vault",
		EnvVars: []string{"SEEDLESS_VAULT"},
		Value:   defaultVaultPath(),
		Usage:   "path of the local vault database",
	}
	contextInfoFlag = &cli.StringFlag{
		Name:  "context-info",
		Value: realms.DefaultContextInfo,
		Usage: "namespace of the PIN registration",
	}
)

func defaultVaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "seedless-vault.db"
	}
	return filepath.Join(home, ".seedless", "vault.db")
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	identityFlags := []cli.Flag{uidFlag, emailFlag}
	backendFlags := []cli.Flag{flags.RealmConfigFlag, flags.PrimaryBackupFlag, flags.SecondaryBackupFlag, flags.AppIDFlag}

	return &cli.App{
		Name:  "seedless",
		Usage: "Back up and recover a wallet without writing down a seed phrase",
		Flags: []cli.Flag{flags.LogJsonFlag, flags.LogDebugFlag, flags.LogUidFlag, flags.LogServiceFlagFn("seedless"), vaultPathFlag},
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "generate a new wallet and back it up",
				Flags:  concat(identityFlags, backendFlags, []cli.Flag{pinFlag, passwordFlag, accountFlag, showMnemonicFlag, contextInfoFlag}),
				Action: runOrchestrator(orchestrator.ModeCreate),
			},
			{
				Name:   "recover",
				Usage:  "recover the backed up wallet on this device",
				Flags:  concat(identityFlags, backendFlags, []cli.Flag{pinFlag, passwordFlag, accountFlag, showMnemonicFlag, contextInfoFlag}),
				Action: runOrchestrator(orchestrator.ModeRecover),
			},
			{
				Name:   "unlock",
				Usage:  "open a wallet from the local vault",
				Flags:  []cli.Flag{passwordFlag, walletFlag, accountFlag},
				Action: unlock,
			},
			{
				Name:   "forget",
				Usage:  "remove a wallet from the local vault",
				Flags:  []cli.Flag{walletFlag},
				Action: forget,
			},
			{
				Name:   "delete-share",
				Usage:  "delete the PIN registration from every reachable realm",
				Flags:  concat(identityFlags, []cli.Flag{flags.RealmConfigFlag, contextInfoFlag}),
				Action: deleteShare,
			},
		},
	}
}

func concat(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func identityFrom(cCtx *cli.Context) interfaces.Identity {
	return interfaces.Identity{UID: cCtx.String(uidFlag.Name), Email: cCtx.String(emailFlag.Name)}
}

func openVault(cCtx *cli.Context, logger *slog.Logger) (*localvault.Vault, func() error, error) {
	path := cCtx.String(vaultPathFlag.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("could not create vault directory: %w", err)
	}
	blobs, err := localvault.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return localvault.New(blobs, localvault.DefaultKDF, logger), blobs.Close, nil
}

func shareFactory(cCtx *cli.Context, logger *slog.Logger) (*realms.Factory, *realms.Config, error) {
	path := cCtx.String(flags.RealmConfigFlag.Name)
	if path == "" {
		return nil, nil, errors.New("--realm-config is required")
	}
	cfg, err := realms.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.TokenIssuerURL == "" {
		return nil, nil, errors.New("realm config has no token_issuer_url")
	}

	issuer := tokenhandler.NewClient(cfg.TokenIssuerURL, cfg.AppName)
	conns := realms.Connect(cfg, realmhandler.Dial)
	return realms.NewFactory(cfg, conns, issuer, logger), cfg, nil
}

func runOrchestrator(mode orchestrator.Mode) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		ctx := cCtx.Context

		shares, _, err := shareFactory(cCtx, logger)
		if err != nil {
			return err
		}

		backups, err := storage.NewFactory(logger).Fallback(ctx,
			cCtx.String(flags.PrimaryBackupFlag.Name),
			cCtx.String(flags.SecondaryBackupFlag.Name))
		if err != nil {
			return err
		}

		vault, closeVault, err := openVault(cCtx, logger)
		if err != nil {
			return err
		}
		defer closeVault()

		cfg := orchestrator.DefaultConfig()
		cfg.AppID = cCtx.String(flags.AppIDFlag.Name)
		cfg.AccountIndex = uint32(cCtx.Uint(accountFlag.Name))
		cfg.ContextInfo = cCtx.String(contextInfoFlag.Name)

		o := orchestrator.New(cfg, orchestrator.Dependencies{
			Backups: backups,
			Shares:  shares,
			Vault:   vault,
			Wallets: wallet.NewDeriver(),
			Log:     logger,
		})
		defer o.SignOut()

		outcome, err := drive(ctx, o, mode, identityFrom(cCtx), cCtx.String(pinFlag.Name), cCtx.String(passwordFlag.Name))
		if err != nil {
			return describe(o, err)
		}

		w := cCtx.App.Writer
		fmt.Fprintf(w, "wallet %s (%s)\n", outcome.WalletID, outcome.Mode)
		for _, account := range outcome.Wallet.Accounts {
			fmt.Fprintf(w, "  %-8s %s  %s\n", account.ChainType, account.Address, account.DerivationPath)
		}
		if cCtx.Bool(showMnemonicFlag.Name) {
			fmt.Fprintf(w, "recovery phrase: %s\n", outcome.Mnemonic)
		}
		return nil
	}
}

// drive feeds the orchestrator the events of a non-interactive run.
func drive(ctx context.Context, o *orchestrator.Orchestrator, mode orchestrator.Mode, identity interfaces.Identity, pin, password string) (*orchestrator.Outcome, error) {
	if err := o.SignIn(identity); err != nil {
		return nil, err
	}
	if err := o.Discover(ctx); err != nil {
		return nil, err
	}

	switch {
	case o.State() == orchestrator.StateChoose && mode == orchestrator.ModeRecover:
		return nil, errors.New("no backup exists for this account")
	case o.State() == orchestrator.StateChoose:
		if err := o.Choose(mode); err != nil {
			return nil, err
		}
	case mode == orchestrator.ModeCreate:
		return nil, errors.New("a backup already exists for this account, use recover")
	}

	if err := o.EnterPIN(pin); err != nil {
		return nil, err
	}
	if mode == orchestrator.ModeCreate {
		if err := o.ConfirmPIN(pin); err != nil {
			return nil, err
		}
	}
	if err := o.EnterPassword(password, password); err != nil {
		return nil, err
	}
	return o.Run(ctx)
}

// describe turns a failure into the message shown to the user.
func describe(o *orchestrator.Orchestrator, err error) error {
	var typed *interfaces.Error
	if !errors.As(err, &typed) {
		return err
	}

	msg := typed.Message
	if f := o.Failure(); f != nil {
		msg = fmt.Sprintf("%s (step %s)", msg, f.Step)
	}
	if typed.Kind == interfaces.KindLocked {
		msg += "; the PIN backup can no longer be used"
	}
	return cli.Exit(fmt.Sprintf("%s: %s", typed.Kind, msg), 1)
}

func resolveWallet(cCtx *cli.Context, vault *localvault.Vault) (string, error) {
	if id := strings.TrimSpace(cCtx.String(walletFlag.Name)); id != "" {
		return id, nil
	}
	active, err := vault.ActiveWallet(cCtx.Context)
	if err != nil {
		return "", err
	}
	if active == "" {
		return "", errors.New("no active wallet, pass --wallet-id")
	}
	return active, nil
}

func unlock(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	vault, closeVault, err := openVault(cCtx, logger)
	if err != nil {
		return err
	}
	defer closeVault()

	walletID, err := resolveWallet(cCtx, vault)
	if err != nil {
		return err
	}

	seed, err := vault.Load(cCtx.Context, walletID, cCtx.String(passwordFlag.Name))
	if err != nil {
		if localvault.IsNotFound(err) {
			return cli.Exit(fmt.Sprintf("wallet %s is not stored on this device", walletID), 1)
		}
		return err
	}

	w, err := wallet.NewDeriver().FromSeed(seed, uint32(cCtx.Uint(accountFlag.Name)))
	if err != nil {
		return err
	}
	for _, account := range w.Accounts {
		fmt.Fprintf(cCtx.App.Writer, "%-8s %s  %s\n", account.ChainType, account.Address, account.DerivationPath)
	}
	return nil
}

func forget(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	vault, closeVault, err := openVault(cCtx, logger)
	if err != nil {
		return err
	}
	defer closeVault()

	walletID, err := resolveWallet(cCtx, vault)
	if err != nil {
		return err
	}
	if err := vault.Delete(cCtx.Context, walletID); err != nil {
		return err
	}
	fmt.Fprintf(cCtx.App.Writer, "removed wallet %s from this device\n", walletID)
	return nil
}

func deleteShare(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	factory, _, err := shareFactory(cCtx, logger)
	if err != nil {
		return err
	}

	tokens := realms.NewTokenCache()
	defer tokens.Clear()

	shares, err := factory.ForSession(identityFrom(cCtx), tokens)
	if err != nil {
		return err
	}
	if err := shares.Delete(cCtx.Context, cCtx.String(contextInfoFlag.Name)); err != nil {
		return err
	}
	fmt.Fprintln(cCtx.App.Writer, "PIN registration deleted")
	return nil
}
