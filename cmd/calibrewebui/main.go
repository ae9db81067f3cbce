package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Globals are flags shared by every command
type Globals struct {
	Config string `short:"c" help:"Path to the YAML config file (optional)" default:"calibrewebui.yaml" env:"CWUI_CONFIG"`
}

// CLI represents the complete command structure
type CLI struct {
	Globals

	Serve        ServeCmd        `cmd:"" default:"withargs" help:"Serve the web UI (default command)"`
	Jobs         JobsCmd         `cmd:"" help:"Inspect or clear the job ledger"`
	Version      VersionCmd      `cmd:"" help:"Print the server and calibre versions"`
	HashPassword HashPasswordCmd `cmd:"" help:"Hash an operator password for auth.password_hash"`
}

// JobsCmd groups the ledger subcommands
type JobsCmd struct {
	List  JobsListCmd  `cmd:"" help:"List job records, newest first"`
	Clear JobsClearCmd `cmd:"" help:"Delete every job record"`
}

func newParser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("calibrewebui"),
		kong.Description("A web interface for a calibre library."),
		kong.UsageOnError(),
	}, options...)
	return kong.New(cli, options...)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
