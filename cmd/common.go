package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/trainqueue/trainqueue/internal/config"
	"github.com/trainqueue/trainqueue/internal/store"
	"github.com/trainqueue/trainqueue/internal/store/redisstore"
)

// flags shared by every command that talks to the shared store
var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "store-url",
		Value:   config.StoreURL,
		Usage:   "Shared key-value store endpoint",
		EnvVars: []string{"STORE_URL"},
	},
	&cli.StringFlag{
		Name:    "data-dir",
		Value:   config.DataDir,
		Usage:   "Root directory for uploads, job workspaces and outputs",
		EnvVars: []string{"DATA_DIR"},
	},
}

// openStore connects to the shared store named by the CLI context.
func openStore(ctx *cli.Context) (store.Store, error) {
	return redisstore.New(ctx.String("store-url"))
}
