// Command validate checks the genmock fixtures against the live intake code:
// every payload passes submission validation, every record is what the
// pipeline would store for its payload, and the duplicate detector agrees
// with a brute-force distance scan.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -payload-json data/mock/payloads.json \
//	  -record-json data/mock/records.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/civicfix-service/internal/adapter/memory"
	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/duplicate"
	"github.com/couchcryptid/civicfix-service/internal/geo"
	"github.com/couchcryptid/civicfix-service/internal/observability"
	"github.com/couchcryptid/civicfix-service/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	payloadJSON := flag.String("payload-json", "", "path to the payload fixture")
	recordJSON := flag.String("record-json", "", "path to the record fixture")
	flag.Parse()

	if *payloadJSON == "" || *recordJSON == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*payloadJSON, *recordJSON); code != 0 {
		os.Exit(code)
	}
}

func run(payloadPath, recordPath string) int {
	fmt.Println("=== Issue Fixture Validation ===")
	fmt.Println()

	payloads, err := loadJSON[domain.IssuePayload](payloadPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load payloads: %v\n", err)
		return 1
	}
	records, err := loadJSON[domain.IssueRecord](recordPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load records: %v\n", err)
		return 1
	}

	phases := []*phase{
		validatePayloads(payloads),
		validateRecords(payloads, records),
		validateDuplicates(records),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Fixtures: %d payloads, %d records\n", len(payloads), len(records))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Phases ──

func validatePayloads(payloads []domain.IssuePayload) *phase {
	p := &phase{name: "Payloads pass submission validation"}
	for i, pl := range payloads {
		if err := pipeline.Validate(pl.Normalize(), nil, nil); err != nil {
			p.errorf("payload %d: %v", i, err)
		}
	}
	return p
}

func validateRecords(payloads []domain.IssuePayload, records []domain.IssueRecord) *phase {
	p := &phase{name: "Records match their payloads"}
	if len(payloads) != len(records) {
		p.errorf("count mismatch: %d payloads vs %d records", len(payloads), len(records))
		return p
	}

	for i := range records {
		rec := &records[i]
		want := domain.NewIssueRecord(payloads[i].Normalize())

		if rec.ID == "" {
			p.errorf("record %d: empty id", i)
		}
		if rec.Category != want.Category || rec.Department != want.Department {
			p.errorf("record %s: category/department %s/%s, want %s/%s",
				rec.ID, rec.Category, rec.Department, want.Category, want.Department)
		}
		if rec.Status != domain.StatusSubmitted {
			p.errorf("record %s: status %q", rec.ID, rec.Status)
		}
		if rec.FullAddress != want.FullAddress || rec.UserID != want.UserID {
			p.errorf("record %s: address or reporter differs from payload", rec.ID)
		}
		if len(rec.StatusHistory) != 1 || rec.StatusHistory[0].Stage != domain.StageSubmitted {
			p.errorf("record %s: expected a single Submitted history entry", rec.ID)
		}
		if rec.Upvotes != 0 || len(rec.UpvotedBy) != 0 {
			p.errorf("record %s: new records start without upvotes", rec.ID)
		}

		got, ok1 := rec.Position()
		exp, ok2 := want.Position()
		if !ok1 || !ok2 || got != exp {
			p.errorf("record %s: position %v, want %v", rec.ID, got, exp)
		}
	}
	return p
}

// validateDuplicates replays the records into a memory store in creation
// order and checks the detector against an exhaustive scan at each step.
func validateDuplicates(records []domain.IssueRecord) *phase {
	p := &phase{name: "Duplicate detector matches brute force"}
	if len(records) == 0 {
		return p
	}

	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(records[0].CreatedAt)
	store := memory.NewIssueStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	detector := duplicate.NewDetector(store, duplicate.Config{}, clock, logger, observability.NewMetricsForTesting())

	var stored []domain.IssueRecord
	var hits int
	for i := range records {
		rec := records[i]
		if rec.CreatedAt.After(clock.Now()) {
			clock.Advance(rec.CreatedAt.Sub(clock.Now()))
		}
		pos, ok := rec.Position()
		if !ok {
			p.errorf("record %s: missing position", rec.ID)
			continue
		}

		found, err := detector.FindNearbyDuplicate(ctx, duplicate.Params{
			Category: rec.Category, Lat: pos.Lat, Lng: pos.Lng,
		})
		if err != nil {
			p.errorf("record %s: detector error: %v", rec.ID, err)
			continue
		}
		want := bruteForce(stored, rec.Category, pos, clock.Now().Add(-duplicate.DefaultWindow))

		switch {
		case (found == nil) != (want == nil):
			p.errorf("record %s: detector found=%v, brute force found=%v", rec.ID, found != nil, want != nil)
		case found != nil && found.Issue.ID != want.ID:
			p.errorf("record %s: detector picked %s, nearest is %s", rec.ID, found.Issue.ID, want.ID)
		case found != nil:
			hits++
		}

		id, err := store.CreateIssue(ctx, rec)
		if err != nil {
			p.errorf("record %s: store: %v", rec.ID, err)
			continue
		}
		rec.ID = id
		stored = append(stored, rec)
	}
	fmt.Printf("Duplicate hits: %d of %d\n", hits, len(records))
	return p
}

func bruteForce(stored []domain.IssueRecord, category string, center geo.Point, from time.Time) *domain.IssueRecord {
	var best *domain.IssueRecord
	bestDist := duplicate.DefaultRadiusMeters
	for i := range stored {
		r := &stored[i]
		if r.Category != category || r.CreatedAt.Before(from) {
			continue
		}
		pos, ok := r.Position()
		if !ok {
			continue
		}
		if d := geo.DistanceMeters(center, pos); d <= bestDist {
			best, bestDist = r, d
		}
	}
	return best
}
