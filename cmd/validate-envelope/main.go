// Command validate-envelope checks a submission envelope against the schema
// validator without touching the registry, CAS, or metastore. It exists for
// source-adapter authors to check their output before wiring it to a running
// gateway.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/fetchwell/ingestcore/internal/envelope"
)

func main() {
	var noColor = flag.Bool("no-color", false, "disable color output")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `validate-envelope checks a submission envelope JSON file against the schema.

Usage:
  validate-envelope <file>

Exit codes:
  0  envelope is structurally valid
  1  envelope failed validation, or the file could not be read/parsed
`)
	}
	flag.Parse()

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	color.NoColor = *noColor

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}

	var env envelope.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("invalid: not a JSON object: %v", err))
		os.Exit(1)
	}

	reasons := envelope.Validate(raw, &env)
	if len(reasons) == 0 {
		fmt.Println(color.GreenString("valid"))
		os.Exit(0)
	}

	fmt.Fprintln(os.Stderr, color.RedString("invalid:"))
	for _, reason := range reasons {
		fmt.Fprintf(os.Stderr, "  - %s\n", reason)
	}
	os.Exit(1)
}
