// Package gcorphans implements out-of-band garbage collection for the
// content-addressed store: a blob can land in CAS via Gateway.Accept and then
// never gain a referencing log entry if the process crashes between the CAS
// write and the log append. spec.md treats that as an acceptable, expected
// outcome rather than a correctness bug ("orphans are acceptable...and are
// garbage-collected out of band"), so this package is reachable only from the
// gc-orphans CLI, never from the core Accept path.
package gcorphans

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fetchwell/ingestcore/internal/cas"
)

// Report summarizes one scan: every digest found in CAS with no referencing
// payload_ref anywhere in the log files under logRoot.
type Report struct {
	ScannedBlobs int
	Orphans      []string
}

// minimalEnvelope is the only field a scan needs from each log line.
type minimalEnvelope struct {
	PayloadRef string `json:"payload_ref"`
}

// Scan walks every "ingest_*.ndjson" file under logRoot to collect referenced
// digests, then walks store to find blobs with no matching reference.
// Malformed log lines are skipped; a scan never fails because of one bad
// record, since the goal is a conservative orphan report, not strict
// validation.
func Scan(ctx context.Context, logRoot string, store *cas.LocalStore) (*Report, error) {
	referenced, err := collectReferencedDigests(logRoot)
	if err != nil {
		return nil, fmt.Errorf("gcorphans: collect referenced digests: %w", err)
	}

	report := &Report{}
	err = store.WalkDigests(ctx, func(digest string) error {
		report.ScannedBlobs++
		if !referenced[digest] {
			report.Orphans = append(report.Orphans, digest)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcorphans: walk store: %w", err)
	}
	return report, nil
}

func collectReferencedDigests(logRoot string) (map[string]bool, error) {
	referenced := map[string]bool{}

	entries, err := os.ReadDir(logRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return referenced, nil
		}
		return nil, fmt.Errorf("read log root: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "ingest_") || !strings.HasSuffix(name, ".ndjson") {
			continue
		}
		if err := collectFromFile(filepath.Join(logRoot, name), referenced); err != nil {
			return nil, err
		}
	}
	return referenced, nil
}

func collectFromFile(path string, referenced map[string]bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 64*1024), 1<<20)
	for scan.Scan() {
		var env minimalEnvelope
		if err := json.Unmarshal(scan.Bytes(), &env); err != nil {
			continue
		}
		if digest, ok := cas.DigestFromPayloadRef(env.PayloadRef); ok {
			referenced[digest] = true
		}
	}
	return scan.Err()
}

// Apply deletes every digest in orphans from store. Intended to run only
// after an operator has reviewed a Report produced by Scan; the gc-orphans
// CLI gates this behind an explicit --apply flag.
func Apply(ctx context.Context, store *cas.LocalStore, orphans []string) (int, error) {
	deleted := 0
	for _, digest := range orphans {
		if err := store.Delete(ctx, digest); err != nil {
			return deleted, fmt.Errorf("gcorphans: delete %s: %w", digest, err)
		}
		deleted++
	}
	return deleted, nil
}
