package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Server  ServerCmd        `cmd:"" help:"Run the game server"`
	Token   TokenCmd         `cmd:"" help:"Mint a signed auth token for local testing"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("wallgame"),
		kong.Description("Wall Game server: human and bot matches over WebSockets"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
