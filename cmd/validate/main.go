// Command validate replays a signal fixture through an in-memory fusion
// engine and checks the resulting clusters against the scoring and
// membership rules. It is the offline counterpart to cmd/genmock.
//
// Usage:
//
//	go run ./cmd/validate -signals data/mock/loss_signals.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/couchcryptid/loss-signal-fusion/internal/adapter/memory"
	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	"github.com/couchcryptid/loss-signal-fusion/internal/observability"
	"github.com/jonboulle/clockwork"
)

// replayTime is the fake "now" for replays, after every fixture signal.
var replayTime = time.Date(2024, time.April, 28, 0, 0, 0, 0, time.UTC)

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
	signalsPath := flag.String("signals", "", "path to a signal JSON fixture produced by genmock")
	verbose := flag.Bool("v", false, "log fusion passes to stderr")
	flag.Parse()

	if *signalsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*signalsPath, *verbose); code != 0 {
		os.Exit(code)
	}
}

func run(signalsPath string, verbose bool) int {
	fmt.Println("=== Loss Signal Fusion Validation ===")
	fmt.Println()

	signals, err := loadJSON[domain.Signal](signalsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load signals: %v\n", err)
		return 1
	}

	logOut := io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	ctx := context.Background()
	store := memory.NewStore()
	if err := store.InsertSignals(ctx, signals...); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load store: %v\n", err)
		return 1
	}
	engine := fusion.New(store, store, logger, observability.NewMetricsForTesting(),
		fusion.WithClock(clockwork.NewFakeClockAt(replayTime)))

	first, err := engine.RunPass(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: first fusion pass: %v\n", err)
		return 1
	}
	clusters, err := loadClusters(ctx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: list clusters: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateSignals(signals),
		validateAccounting(signals, first, store),
		validateClusters(clusters),
		validateIdempotence(ctx, engine, store),
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
	fmt.Printf("Signals: %d loaded, %d clustered, %d suppressed\n", len(signals), first.SignalsClustered, first.SignalsSuppressed)
	fmt.Printf("Clusters: %d total, %s\n", len(clusters), tierSummary(clusters))

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

// ── Data loading ──

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func loadClusters(ctx context.Context, store *memory.Store) ([]domain.ClusterDetail, error) {
	var out []domain.ClusterDetail
	for offset := 0; ; offset += domain.MaxClusterLimit {
		page, err := store.ListClusters(ctx, domain.ClusterFilter{Limit: domain.MaxClusterLimit, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			detail, err := store.GetCluster(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, detail)
		}
		if len(page) < domain.MaxClusterLimit {
			return out, nil
		}
	}
}

func tierSummary(clusters []domain.ClusterDetail) string {
	counts := map[domain.VerificationStatus]int{}
	for _, c := range clusters {
		counts[c.Cluster.VerificationStatus]++
	}
	return fmt.Sprintf("%d probable, %d reported, %d confirmed",
		counts[domain.StatusProbable], counts[domain.StatusReported], counts[domain.StatusConfirmed])
}

// ── Phase 1: fixture schema ──

func validateSignals(signals []domain.Signal) *phase {
	p := &phase{name: "Phase 1: Signal fixture schema"}
	seen := make(map[string]bool, len(signals))
	for i, s := range signals {
		if s.ID == "" {
			p.errorf("signal[%d]: empty id", i)
		} else if seen[s.ID] {
			p.errorf("signal[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true

		if _, err := domain.ParseEventType(string(s.EventType)); err != nil {
			p.errorf("signal %s: %v", s.ID, err)
		}
		if !s.SourceType.Known() {
			p.errorf("signal %s: source type %q has no weight", s.ID, s.SourceType)
		}
		if s.OccurredAt.IsZero() {
			p.errorf("signal %s: occurred_at missing", s.ID)
		}
		if loc := s.Location; loc != nil {
			if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
				p.errorf("signal %s: coordinates out of range (%.5f, %.5f)", s.ID, loc.Lat, loc.Lng)
			}
		}
	}
	return p
}

// ── Phase 2: every signal accounted for ──

func validateAccounting(signals []domain.Signal, res fusion.Result, store *memory.Store) *phase {
	p := &phase{name: "Phase 2: Signal accounting"}
	if len(res.Errors) > 0 {
		for _, e := range res.Errors {
			p.errorf("pass error: %s", e)
		}
	}

	skipped := 0
	for _, s := range signals {
		_, clustered := store.ClusterOf(s.ID)
		if !s.HasLocation() {
			skipped++
			if clustered {
				p.errorf("signal %s has no location but was clustered", s.ID)
			}
		}
	}
	if got := res.SignalsClustered + res.SignalsSuppressed + skipped; got != len(signals) {
		p.errorf("clustered %d + suppressed %d + skipped %d = %d, want %d",
			res.SignalsClustered, res.SignalsSuppressed, skipped, got, len(signals))
	}
	if m := store.Memberships(); m != res.SignalsClustered {
		p.errorf("membership rows %d != signals clustered %d", m, res.SignalsClustered)
	}
	return p
}

// ── Phase 3: cluster invariants ──

func validateClusters(clusters []domain.ClusterDetail) *phase {
	p := &phase{name: "Phase 3: Cluster scoring and membership"}
	for _, d := range clusters {
		c := d.Cluster
		if c.SignalCount != len(d.Signals) {
			p.errorf("cluster %s: signal_count %d, %d members", c.ID, c.SignalCount, len(d.Signals))
		}

		types := domain.NewSourceSet()
		for _, s := range d.Signals {
			types[s.SourceType] = struct{}{}
			if s.EventType != c.EventType {
				p.errorf("cluster %s (%s): member %s has event type %s", c.ID, c.EventType, s.ID, s.EventType)
			}
			if !c.Window.Contains(s.OccurredAt) {
				p.errorf("cluster %s: member %s at %s outside window", c.ID, s.ID, s.OccurredAt.Format(time.RFC3339))
			}
		}
		if got, want := c.SourceTypes.Strings(), types.Strings(); !slices.Equal(got, want) {
			p.errorf("cluster %s: source_types %v, members have %v", c.ID, got, want)
		}
		if want := domain.Score(types); c.ConfidenceScore != want {
			p.errorf("cluster %s: confidence %d, want %d", c.ID, c.ConfidenceScore, want)
		}
		if c.ConfidenceScore < 0 || c.ConfidenceScore > domain.MaxConfidence {
			p.errorf("cluster %s: confidence %d out of range", c.ID, c.ConfidenceScore)
		}
		if want := domain.StatusForScore(c.ConfidenceScore); c.VerificationStatus != want {
			p.errorf("cluster %s: status %s, want %s", c.ID, c.VerificationStatus, want)
		}
		if len(types) == 1 && types.Has(domain.SourceWeather) && c.VerificationStatus == domain.StatusConfirmed {
			p.errorf("cluster %s: weather-only cluster is confirmed", c.ID)
		}
	}
	return p
}

// ── Phase 4: re-run is a no-op ──

func validateIdempotence(ctx context.Context, engine *fusion.Engine, store *memory.Store) *phase {
	p := &phase{name: "Phase 4: Idempotent re-run"}
	before := store.Memberships()
	res, err := engine.RunPass(ctx)
	if err != nil {
		p.errorf("second pass: %v", err)
		return p
	}
	if res.ClustersCreated != 0 || res.ClustersUpdated != 0 || res.SignalsClustered != 0 {
		p.errorf("second pass changed state: created=%d updated=%d clustered=%d",
			res.ClustersCreated, res.ClustersUpdated, res.SignalsClustered)
	}
	if after := store.Memberships(); after != before {
		p.errorf("membership rows %d -> %d", before, after)
	}
	return p
}
