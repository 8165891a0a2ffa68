// Command gc-orphans reports (and, with --apply, deletes) CAS blobs that no
// log entry references. This is an out-of-band maintenance operation: the
// core Accept/FetchOnce path never deletes from CAS, and an orphan here is an
// expected, non-corrupting artifact of a crash between the CAS write and the
// log append, not a sign anything is broken.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/fetchwell/ingestcore/internal/cas"
	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/fetchwell/ingestcore/internal/gcorphans"
)

func main() {
	var (
		configPath = flag.StringP("config", "c", "", "path to config YAML (default: built-in defaults)")
		apply      = flag.Bool("apply", false, "delete reported orphans instead of only reporting them")
		noColor    = flag.Bool("no-color", false, "disable color output")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `gc-orphans walks the content-addressed store and reports blobs with no
referencing log entry. Without --apply it only reports; pass --apply to
delete the reported blobs.

Usage:
  gc-orphans [--config <path>] [--apply]
`)
	}
	flag.Parse()

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	color.NoColor = *noColor

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("config error: %v", err))
		os.Exit(1)
	}

	if cfg.CAS.Backend != "" && cfg.CAS.Backend != "local" {
		fmt.Fprintln(os.Stderr, color.RedString("gc-orphans only supports the local CAS backend; configured backend is %q", cfg.CAS.Backend))
		os.Exit(1)
	}

	store, err := cas.NewLocalStore(cfg.CAS.LocalRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}

	ctx := context.Background()
	logRoot := filepath.Join(cfg.DataRoot, "ingest_log")

	report, err := gcorphans.Scan(ctx, logRoot, store)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("scan error: %v", err))
		os.Exit(1)
	}

	fmt.Printf("scanned %d blobs, found %d orphans\n", report.ScannedBlobs, len(report.Orphans))
	for _, digest := range report.Orphans {
		fmt.Println("  " + digest)
	}

	if !*apply || len(report.Orphans) == 0 {
		return
	}

	deleted, err := gcorphans.Apply(ctx, store, report.Orphans)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("apply error: %v", err))
		os.Exit(1)
	}
	fmt.Println(color.GreenString("deleted %d orphaned blobs", deleted))
}
