package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/incbuild/cmd/incbuild/commands"
	"git.home.luguber.info/inful/incbuild/internal/errors"
	"git.home.luguber.info/inful/incbuild/internal/version"
)

func main() {
	var cli commands.CLI
	global := &commands.Global{Logger: slog.Default()}
	ctx := kong.Parse(&cli,
		kong.Name("incbuild"),
		kong.Description("Incremental multi-round compilation orchestrator"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)
	err := ctx.Run(&cli)
	os.Exit(errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).Handle(err))
}
