package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "walletctl",
		Usage: "health wallet maintenance",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: fStore, Usage: "override STORE_DRIVER (memory|postgres)", EnvVars: []string{"STORE_DRIVER"}},
			&cli.BoolFlag{Name: fVerbose, Aliases: []string{"v"}},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			seedVouchersCommand(),
			sweepCommand(),
			integrityCommand(),
			verifyCommand(),
			tokenCommand(),
			stressCommand(),
		},
	}
}
