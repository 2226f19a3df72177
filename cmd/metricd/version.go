package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/HerbHall/metricd/internal/version"
)

func runVersion(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("version", stderr)
	asJSON := fs.Bool("json", false, "print build details as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(version.Map())
	}
	_, err := fmt.Fprintln(stdout, version.Info())
	return err
}
