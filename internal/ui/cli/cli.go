package cli

import (
	"flag"
	"io"
)

const versionString = "0.4.0"
const defaultConfigPath = "./data/config/graphedit.toml"

type cliOptions struct {
	configPath  string
	ui          bool
	script      string
	exportVault string
	verbose     bool
	version     bool
	args        []string
}

func parseOptions(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("graphedit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	fs.BoolVar(&opts.ui, "ui", false, "Open the terminal history browser")
	fs.StringVar(&opts.script, "script", "", "Run editing commands from this file and exit")
	fs.StringVar(&opts.exportVault, "export-vault", "", "Export the graph as markdown notes into this directory and exit")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}

	opts.args = fs.Args()
	return opts, nil
}
