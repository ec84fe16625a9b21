package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"healthwallet-service/internal/app"
	"healthwallet-service/internal/config"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
	"healthwallet-service/internal/pkg/jwt"

	"github.com/google/uuid"
	fuzz "github.com/google/gofuzz"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	fStore   = "store"
	fVerbose = "verbose"

	fAccount  = "account"
	fAccounts = "accounts"
	fRoles    = "roles"
	fDevice   = "device"
	fThreads  = "threads"
	fOps      = "ops"
)

type session struct {
	cfg      config.AppConfig
	logger   *zap.Logger
	infra    *app.Infra
	services *app.Services
}

// open wires the same services as the API, minus the websocket hub.
func open(c *cli.Context, migrate bool) (*session, error) {
	cfg := config.Load()
	if s := c.String(fStore); s != "" {
		cfg.StoreDriver = strings.ToLower(s)
	}
	cfg.AutoMigrate = migrate

	logger := zap.NewNop()
	if c.Bool(fVerbose) {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		logger = l
	}

	infra, err := app.OpenInfra(c.Context, cfg, logger)
	if err != nil {
		_ = infra.Close(context.Background())
		return nil, errors.WithStack(err)
	}
	services, err := app.NewServices(cfg, infra, nil, logger)
	if err != nil {
		_ = infra.Close(context.Background())
		return nil, errors.WithStack(err)
	}
	return &session{cfg: cfg, logger: logger, infra: infra, services: services}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.infra.Close(ctx)
	_ = s.logger.Sync()
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or update the wallet schema",
		Action: func(c *cli.Context) error {
			s, err := open(c, true)
			if err != nil {
				return err
			}
			defer s.close()
			if s.infra.Postgres == nil {
				return errors.New("migrate needs the postgres store")
			}
			fmt.Fprintln(c.App.Writer, "schema up to date")
			return nil
		},
	}
}

func seedVouchersCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed-vouchers",
		Usage: "upsert the voucher catalog (VOUCHER_CATALOG_PATH or the built-in one)",
		Action: func(c *cli.Context) error {
			s, err := open(c, false)
			if err != nil {
				return err
			}
			defer s.close()

			n, err := app.SeedVouchers(c.Context, s.cfg, s.services.Vouchers)
			if err != nil {
				return errors.WithStack(err)
			}
			fmt.Fprintf(c.App.Writer, "seeded %d vouchers\n", n)
			return nil
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "expire stale pending top-up intents once",
		Action: func(c *cli.Context) error {
			s, err := open(c, false)
			if err != nil {
				return err
			}
			defer s.close()

			n, err := s.services.Sweeper.SweepOnce(c.Context)
			if err != nil {
				return errors.WithStack(err)
			}
			fmt.Fprintf(c.App.Writer, "expired %d intents\n", n)
			return nil
		},
	}
}

func integrityCommand() *cli.Command {
	return &cli.Command{
		Name:  "integrity",
		Usage: "list settled intents with no matching deposit",
		Action: func(c *cli.Context) error {
			s, err := open(c, false)
			if err != nil {
				return err
			}
			defer s.close()

			drift, err := s.services.Reconcile.CheckIntegrity(c.Context)
			for _, in := range drift {
				fmt.Fprintf(c.App.Writer, "%s\taccount=%d\tamount=%d\n", in.IntentID, in.AccountID, in.RequestedAmountMinorUnits)
			}
			if xerrors.Is(err, xerrors.ErrIntegrityViolation) {
				return cli.Exit(fmt.Sprintf("%d settled intents without deposit", len(drift)), 2)
			}
			if err != nil {
				return errors.WithStack(err)
			}
			fmt.Fprintln(c.App.Writer, "ok")
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "compare an account's balance and points with its ledger",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: fAccount, Aliases: []string{"a"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			s, err := open(c, false)
			if err != nil {
				return err
			}
			defer s.close()

			drift, err := s.services.Ledger.VerifyAccount(c.Context, c.Int64(fAccount))
			if err != nil {
				return errors.WithStack(err)
			}
			fmt.Fprintf(c.App.Writer, "balance projected=%d ledger=%d\npoints projected=%d ledger=%d\n",
				drift.ProjectedBalance, drift.LedgerBalance, drift.ProjectedPoints, drift.LedgerPoints)
			if drift.Diverged() {
				return cli.Exit("projection diverged from ledger", 2)
			}
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue a development access token (needs JWT_PRIVATE_KEY_PATH)",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: fAccount, Aliases: []string{"a"}, Required: true},
			&cli.StringSliceFlag{Name: fRoles, Value: cli.NewStringSlice("patient")},
			&cli.StringFlag{Name: fDevice, Value: "cli"},
		},
		Action: func(c *cli.Context) error {
			gen, err := jwt.LoadGenerator(config.Load().JWT)
			if err != nil {
				return errors.WithStack(err)
			}
			tok, _, err := gen.GenerateAccessToken(c.Int64(fAccount), c.StringSlice(fRoles), c.String(fDevice))
			if err != nil {
				return errors.WithStack(err)
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}

// stressCommand posts concurrent deposits and checks every touched account
// against its ledger afterwards.
func stressCommand() *cli.Command {
	return &cli.Command{
		Name:  "stress",
		Usage: "post concurrent deposits and verify the projections",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: fThreads, Value: 16, Aliases: []string{"t"}},
			&cli.IntFlag{Name: fAccounts, Value: 10, Aliases: []string{"n"}},
			&cli.IntFlag{Name: fOps, Value: 1000},
		},
		Action: func(c *cli.Context) error {
			s, err := open(c, false)
			if err != nil {
				return err
			}
			defer s.close()

			accounts := c.Int(fAccounts)
			if accounts <= 0 {
				return errors.New("accounts must be positive")
			}
			inputs := genDeposits(c.Int(fOps))

			g, ctx := errgroup.WithContext(c.Context)
			g.SetLimit(c.Int(fThreads))
			for i, in := range inputs {
				accountID := int64(i%accounts) + 1
				in := in
				g.Go(func() error {
					_, err := s.services.Ledger.PostTransaction(ctx, accountID, in)
					return errors.WithStack(err)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			diverged := 0
			for id := int64(1); id <= int64(accounts); id++ {
				drift, err := s.services.Ledger.VerifyAccount(c.Context, id)
				if err != nil {
					return errors.WithStack(err)
				}
				if drift.Diverged() {
					diverged++
				}
			}
			fmt.Fprintf(c.App.Writer, "posted %d deposits over %d accounts, %d diverged\n", len(inputs), accounts, diverged)
			if diverged > 0 {
				return cli.Exit("projection drift detected", 2)
			}
			return nil
		},
	}
}

func genDeposits(n int) []wallet.PostInput {
	f := fuzz.New()
	out := make([]wallet.PostInput, 0, n)
	for i := 0; i < n; i++ {
		var amount uint16
		f.Fuzz(&amount)
		ref := "STRESS-" + uuid.NewString()
		out = append(out, wallet.PostInput{
			Type:              wallet.TransactionDeposit,
			AmountMinorUnits:  int64(amount) + 1,
			PointsDelta:       int64(amount) / 100,
			Description:       "stress deposit",
			ExternalReference: &ref,
		})
	}
	return out
}
