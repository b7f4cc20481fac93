package cli

import (
	"io"
	"testing"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if opts.configPath != defaultConfigPath || opts.ui || opts.script != "" {
		t.Fatalf("unexpected defaults %+v", opts)
	}

	opts, err = parseOptions([]string{"--config", "x.toml", "--script", "s.txt", "--export-vault", "out", "--verbose"}, io.Discard)
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if opts.configPath != "x.toml" || opts.script != "s.txt" || opts.exportVault != "out" || !opts.verbose {
		t.Fatalf("unexpected options %+v", opts)
	}

	if _, err := parseOptions([]string{"--bogus"}, io.Discard); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
