// Command genmock generates a deterministic loss signal fixture. Weather
// signals come from NOAA SPC storm report CSVs when -csv-dir is given, or from
// a built-in set of seed incidents otherwise. Corroborating fire report, CAD,
// news and commercial fire signals are scattered around a share of them, plus
// isolated low-confidence reports that the fusion pass should suppress.
//
// It runs the real candidate builder over the output so the printed stats can
// be used to update test assertions.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv-dir ../storm-data-system/mock-server/data \
//	  -out data/mock/loss_signals.json \
//	  -database-url postgres://localhost:5432/fusion
package main

import (
	"context"
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

	"github.com/couchcryptid/loss-signal-fusion/internal/adapter/postgres"
	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
)

// SPC report days run from 12Z to 12Z; times before noon belong to the next
// calendar day.
var baseDate = time.Date(2024, time.April, 26, 0, 0, 0, 0, time.UTC)

type csvDef struct {
	file      string
	eventType domain.EventType
	magCol    string // column name for magnitude (Size, F_Scale, Speed)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvDir := flag.String("csv-dir", "", "directory containing NOAA SPC CSV files (optional)")
	out := flag.String("out", "", "output path for the signal JSON fixture")
	dbURL := flag.String("database-url", "", "insert the generated signals into this database (optional)")
	seed := flag.Uint64("seed", 42, "random seed for corroborating signals")
	flag.Parse()

	if *out == "" && *dbURL == "" {
		flag.Usage()
		return fmt.Errorf("at least one of -out or -database-url is required")
	}

	var weather []domain.Signal
	if *csvDir != "" {
		defs := []csvDef{
			{file: "240426_rpts_hail.csv", eventType: domain.EventHail, magCol: "Size"},
			{file: "240426_rpts_torn.csv", eventType: domain.EventWind, magCol: "F_Scale"},
			{file: "240426_rpts_wind.csv", eventType: domain.EventWind, magCol: "Speed"},
		}
		for _, d := range defs {
			signals, err := processCSV(filepath.Join(*csvDir, d.file), d)
			if err != nil {
				return fmt.Errorf("processing %s: %w", d.file, err)
			}
			weather = append(weather, signals...)
			log.Printf("%s: %d records", d.file, len(signals))
		}
	} else {
		weather = seedIncidents()
		log.Printf("no -csv-dir given, using %d built-in seed incidents", len(weather))
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	signals := corroborate(weather, rng)
	sort.Slice(signals, func(i, j int) bool {
		if !signals[i].OccurredAt.Equal(signals[j].OccurredAt) {
			return signals[i].OccurredAt.Before(signals[j].OccurredAt)
		}
		return signals[i].ID < signals[j].ID
	})
	log.Printf("total: %d signals", len(signals))

	if *out != "" {
		if err := writeJSON(*out, signals); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}

	if *dbURL != "" {
		ctx := context.Background()
		db, err := postgres.Connect(ctx, *dbURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		if err := db.InsertSignals(ctx, signals...); err != nil {
			return err
		}
		log.Printf("inserted %d signals", len(signals))
	}

	printStats(signals)
	return nil
}

func processCSV(path string, def csvDef) ([]domain.Signal, error) {
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

	prefix := strings.TrimSuffix(strings.TrimPrefix(def.file, "240426_rpts_"), ".csv")
	var signals []domain.Signal
	for n, row := range rows[1:] {
		lat, errLat := strconv.ParseFloat(get(row, colIdx, "Lat"), 64)
		lng, errLng := strconv.ParseFloat(get(row, colIdx, "Lon"), 64)
		at, errTime := reportTime(get(row, colIdx, "Time"))
		if errLat != nil || errLng != nil || errTime != nil {
			continue
		}

		sig := domain.Signal{
			ID:         fmt.Sprintf("spc-%s-%04d", prefix, n+1),
			EventType:  def.eventType,
			OccurredAt: at,
			Location:   &domain.Point{Lat: lat, Lng: lng},
			Address: domain.Address{
				City:  titleCase(get(row, colIdx, "Location")),
				State: get(row, colIdx, "State"),
			},
			SourceType:    domain.SourceWeather,
			SeverityRaw:   ptr(severity(def, get(row, colIdx, def.magCol))),
			ConfidenceRaw: ptr(0.9),
			CreatedAt:     at.Add(15 * time.Minute),
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// reportTime parses an SPC HHMM time on the report day.
func reportTime(hhmm string) (time.Time, error) {
	if len(hhmm) != 4 {
		return time.Time{}, fmt.Errorf("bad time %q", hhmm)
	}
	h, err := strconv.Atoi(hhmm[:2])
	if err != nil {
		return time.Time{}, err
	}
	m, err := strconv.Atoi(hhmm[2:])
	if err != nil {
		return time.Time{}, err
	}
	t := baseDate.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	if h < 12 {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// severity maps a report magnitude onto 0–100: hail size in hundredths of an
// inch, wind speed in mph, or an EF rating.
func severity(def csvDef, mag string) float64 {
	switch def.magCol {
	case "Size":
		if v, err := strconv.ParseFloat(mag, 64); err == nil {
			return math.Min(100, v/3)
		}
	case "Speed":
		if v, err := strconv.ParseFloat(mag, 64); err == nil {
			return math.Min(100, v)
		}
	case "F_Scale":
		if v, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(mag), "EF")); err == nil {
			return math.Min(100, 60+float64(v)*10)
		}
	}
	return 50
}

// seedIncidents is the fallback set of weather-sourced incidents.
func seedIncidents() []domain.Signal {
	type seed struct {
		et       domain.EventType
		lat, lng float64
		city     string
		state    string
		hour     int
		sev      float64
	}
	seeds := []seed{
		{domain.EventHail, 32.7555, -97.3308, "Fort Worth", "TX", 18, 75},
		{domain.EventHail, 35.4676, -97.5164, "Oklahoma City", "OK", 21, 55},
		{domain.EventWind, 41.2565, -95.9345, "Omaha", "NE", 23, 80},
		{domain.EventWind, 39.0997, -94.5786, "Kansas City", "MO", 14, 45},
		{domain.EventFire, 34.0522, -118.2437, "Los Angeles", "CA", 16, 90},
		{domain.EventFire, 38.5816, -121.4944, "Sacramento", "CA", 13, 65},
		{domain.EventFreeze, 44.9778, -93.2650, "Minneapolis", "MN", 6, 70},
		{domain.EventFreeze, 43.0389, -87.9065, "Milwaukee", "WI", 4, 50},
	}
	out := make([]domain.Signal, len(seeds))
	for i, s := range seeds {
		at := baseDate.Add(time.Duration(s.hour) * time.Hour)
		out[i] = domain.Signal{
			ID:            fmt.Sprintf("seed-%02d", i+1),
			EventType:     s.et,
			OccurredAt:    at,
			Location:      &domain.Point{Lat: s.lat, Lng: s.lng},
			Address:       domain.Address{City: s.city, State: s.state},
			SourceType:    domain.SourceWeather,
			SeverityRaw:   ptr(s.sev),
			ConfidenceRaw: ptr(0.9),
			CreatedAt:     at.Add(15 * time.Minute),
		}
	}
	return out
}

var corroborators = []domain.SourceType{
	domain.SourceFireReport,
	domain.SourceCAD,
	domain.SourceNews,
	domain.SourceCommercialFire,
}

// corroborate returns the weather signals plus, for roughly half of them, one
// to three reports from other channels within 2 km and 6 h, and one isolated
// low-confidence news report far from any incident for every fourth.
func corroborate(weather []domain.Signal, rng *rand.Rand) []domain.Signal {
	out := append([]domain.Signal(nil), weather...)
	for i, w := range weather {
		if rng.IntN(2) == 0 {
			n := 1 + rng.IntN(3)
			perm := rng.Perm(len(corroborators))
			for k := range n {
				src := corroborators[perm[k]]
				at := w.OccurredAt.Add(time.Duration(rng.IntN(6*60)) * time.Minute)
				out = append(out, domain.Signal{
					ID:            fmt.Sprintf("%s-%s", w.ID, src),
					EventType:     w.EventType,
					OccurredAt:    at,
					Location:      ptr(jitter(*w.Location, 2, rng)),
					Address:       domain.Address{Street: fmt.Sprintf("%d Main St", 100+rng.IntN(900)), City: w.Address.City, State: w.Address.State},
					SourceType:    src,
					SeverityRaw:   ptr(float64(40 + rng.IntN(60))),
					ConfidenceRaw: ptr(0.5 + rng.Float64()/2),
					CreatedAt:     at.Add(30 * time.Minute),
				})
			}
		}
		if i%4 == 3 {
			at := w.OccurredAt.Add(-3 * time.Hour)
			out = append(out, domain.Signal{
				ID:            fmt.Sprintf("%s-rumor", w.ID),
				EventType:     w.EventType,
				OccurredAt:    at,
				Location:      &domain.Point{Lat: w.Location.Lat + 0.5, Lng: w.Location.Lng + 0.5},
				SourceType:    domain.SourceNews,
				SeverityRaw:   ptr(20.0),
				ConfidenceRaw: ptr(0.3),
				CreatedAt:     at,
			})
		}
	}
	return out
}

// jitter moves p by up to maxKm in a random direction.
func jitter(p domain.Point, maxKm float64, rng *rand.Rand) domain.Point {
	d := rng.Float64() * maxKm
	theta := rng.Float64() * 2 * math.Pi
	dLat := d * math.Cos(theta) / 111.0
	dLng := d * math.Sin(theta) / (111.0 * math.Cos(p.Lat*math.Pi/180))
	return domain.Point{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func ptr[T any](v T) *T { return &v }

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

func printStats(signals []domain.Signal) {
	byType := map[domain.EventType]int{}
	bySource := map[domain.SourceType]int{}
	for _, s := range signals {
		byType[s.EventType]++
		bySource[s.SourceType]++
	}

	candidates, stats := domain.BuildCandidates(signals, domain.DefaultMatchOptions())
	byStatus := map[domain.VerificationStatus]int{}
	for _, c := range candidates {
		byStatus[domain.StatusForScore(domain.Score(c.SourceTypes))]++
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(signals))
	fmt.Printf("By type: Fire=%d, Wind=%d, Hail=%d, Freeze=%d\n",
		byType[domain.EventFire], byType[domain.EventWind], byType[domain.EventHail], byType[domain.EventFreeze])
	fmt.Printf("By source: weather=%d, fire_report=%d, cad=%d, news=%d, commercial_fire=%d\n",
		bySource[domain.SourceWeather], bySource[domain.SourceFireReport], bySource[domain.SourceCAD],
		bySource[domain.SourceNews], bySource[domain.SourceCommercialFire])
	fmt.Printf("Candidates: %d (suppressed %d covering %d signals, skipped %d)\n",
		len(candidates), stats.SuppressedCandidates, stats.SuppressedSignals, stats.Skipped)
	fmt.Printf("Fresh-store tiers: probable=%d, reported=%d, confirmed=%d\n",
		byStatus[domain.StatusProbable], byStatus[domain.StatusReported], byStatus[domain.StatusConfirmed])
}
