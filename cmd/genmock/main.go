// Command genmock reads a CSV of seed sites and generates deterministic issue
// fixtures: submission payloads for load and API tests, and the records the
// intake pipeline would store for them. Reports are scattered around each
// site so some fall inside the duplicate radius and some do not.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv data/mock/sites.csv \
//	  -payload-out data/mock/payloads.json \
//	  -record-out data/mock/records.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/duplicate"
	"github.com/couchcryptid/civicfix-service/internal/geo"
)

var baseTime = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

const metersPerDegree = 111_320.0

// site is one CSV row. Columns: Title, Description, Category, Locality,
// City, State, Pincode, Lat, Lng.
type site struct {
	title, description, category string
	locality, city, state        string
	pincode                      string
	center                       geo.Point
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "CSV file of seed sites")
	payloadOut := flag.String("payload-out", "", "output path for the payload fixture")
	recordOut := flag.String("record-out", "", "output path for the record fixture")
	perSite := flag.Int("per-site", 5, "reports generated around each site")
	spread := flag.Float64("spread", 150, "maximum scatter distance in meters")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	if *csvPath == "" || *payloadOut == "" || *recordOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -csv, -payload-out, -record-out")
	}

	sites, err := readSites(*csvPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *csvPath, err)
	}
	log.Printf("%d sites", len(sites))

	// Fixed clock so record timestamps are reproducible.
	clock := clockwork.NewFakeClockAt(baseTime)
	domain.SetClock(clock)
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewPCG(*seed, *seed))
	payloads := make([]domain.IssuePayload, 0, len(sites)**perSite)
	records := make([]domain.IssueRecord, 0, len(sites)**perSite)

	for _, s := range sites {
		for i := range *perSite {
			p := s.payload(scatter(rng, s.center, *spread), len(payloads))
			rec := domain.NewIssueRecord(p.Normalize())
			rec.ID = fmt.Sprintf("mock-%04d", len(records)+1)

			payloads = append(payloads, p)
			records = append(records, rec)
			clock.Advance(time.Duration(1+i) * time.Minute)
		}
	}

	if err := writeJSON(*payloadOut, payloads); err != nil {
		return fmt.Errorf("writing payload fixture: %w", err)
	}
	log.Printf("wrote payload fixture: %s", *payloadOut)

	if err := writeJSON(*recordOut, records); err != nil {
		return fmt.Errorf("writing record fixture: %w", err)
	}
	log.Printf("wrote record fixture: %s", *recordOut)

	printStats(records)
	return nil
}

func readSites(path string) ([]site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[h] = i
	}

	sites := make([]site, 0, len(rows)-1)
	for n, row := range rows[1:] {
		lat, errLat := strconv.ParseFloat(get(row, colIdx, "Lat"), 64)
		lng, errLng := strconv.ParseFloat(get(row, colIdx, "Lng"), 64)
		center := geo.Point{Lat: lat, Lng: lng}
		if errLat != nil || errLng != nil || !center.Valid() {
			return nil, fmt.Errorf("row %d: invalid coordinates", n+2)
		}
		sites = append(sites, site{
			title:       get(row, colIdx, "Title"),
			description: get(row, colIdx, "Description"),
			category:    get(row, colIdx, "Category"),
			locality:    get(row, colIdx, "Locality"),
			city:        get(row, colIdx, "City"),
			state:       get(row, colIdx, "State"),
			pincode:     get(row, colIdx, "Pincode"),
			center:      center,
		})
	}
	return sites, nil
}

func (s site) payload(at geo.Point, n int) domain.IssuePayload {
	lat, lng := at.Lat, at.Lng
	return domain.IssuePayload{
		Title:       s.title,
		Description: s.description,
		Category:    s.category,
		FullAddress: strings.Join([]string{s.locality, s.city, s.state, s.pincode}, ", "),
		Locality:    s.locality,
		City:        s.city,
		State:       s.state,
		Pincode:     s.pincode,
		Country:     "India",
		Lat:         &lat,
		Lng:         &lng,
		UserID:      fmt.Sprintf("citizen-%02d", n%7+1),
	}
}

// scatter returns a point at a uniform random bearing and a distance of up
// to maxMeters from center.
func scatter(rng *rand.Rand, center geo.Point, maxMeters float64) geo.Point {
	bearing := rng.Float64() * 2 * math.Pi
	dist := rng.Float64() * maxMeters
	dLat := dist * math.Cos(bearing) / metersPerDegree
	dLng := dist * math.Sin(bearing) / (metersPerDegree * math.Cos(center.Lat*math.Pi/180))
	return geo.Point{
		Lat: math.Round((center.Lat+dLat)*1e6) / 1e6,
		Lng: math.Round((center.Lng+dLng)*1e6) / 1e6,
	}
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

type categoryCount struct {
	category string
	count    int
}

// printStats reports the numbers tests assert against, including how many
// same-category pairs fall inside the default duplicate radius.
func printStats(records []domain.IssueRecord) {
	counts := map[string]int{}
	departments := map[string]int{}
	for i := range records {
		counts[records[i].Category]++
		departments[records[i].Department]++
	}

	cc := make([]categoryCount, 0, len(counts))
	for c, n := range counts {
		cc = append(cc, categoryCount{c, n})
	}
	sort.Slice(cc, func(i, j int) bool { return cc[i].count > cc[j].count })

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(records))
	fmt.Print("By category: ")
	for _, c := range cc {
		fmt.Printf("%s=%d ", c.category, c.count)
	}
	fmt.Println()
	fmt.Printf("Departments: %d\n", len(departments))

	var pairs int
	for i := range records {
		a, ok := records[i].Position()
		if !ok {
			continue
		}
		for j := i + 1; j < len(records); j++ {
			b, ok := records[j].Position()
			if !ok || records[i].Category != records[j].Category {
				continue
			}
			if geo.DistanceMeters(a, b) <= duplicate.DefaultRadiusMeters {
				pairs++
			}
		}
	}
	fmt.Printf("Same-category pairs within %gm: %d\n", duplicate.DefaultRadiusMeters, pairs)
}
