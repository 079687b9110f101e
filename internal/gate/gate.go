// Package gate enforces the hard data invariants of the canonical entity set.
// It runs in CI: a hard violation blocks promotion with a non-zero exit.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"kaisou/internal/domain"
	"kaisou/internal/notify"
	"kaisou/internal/platform/metrics"
	"kaisou/internal/store"
)

// alertViolationCap bounds the violation digest carried in an alert payload.
// Webhook receivers (chat channels) want a short summary; the full sorted
// list stays with the CLI output and the Report itself.
const alertViolationCap = 5

// Rule names identify which invariant a violation breaks.
const (
	RuleTotalCount    = "total-count"
	RuleDuplicateJIS  = "duplicate-jis-code"
	RuleEmptySlug     = "empty-slug"
	RuleDuplicateSlug = "duplicate-slug"
	RuleURLFormat     = "url-format"
	RulePDFExclusive  = "pdf-only-exclusive"
)

// Violation is one hard invariant breach.
type Violation struct {
	JISCode string
	Rule    string
	Detail  string
}

func (v Violation) String() string {
	if v.JISCode == "" {
		return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
	}
	return fmt.Sprintf("%s [%s]: %s", v.Rule, v.JISCode, v.Detail)
}

// SoftMetrics are advisory counts; they never fail the gate.
type SoftMetrics struct {
	Total         int
	MissingLink   int
	DomainWarning int
	Broken        int
	NeedsReview   int
}

// Report is the gate outcome.
type Report struct {
	Passed     bool
	Violations []Violation
	Metrics    SoftMetrics
}

// Gate verifies the canonical set against the hard invariants.
type Gate struct {
	store         store.MunicipalityStore
	expectedTotal int
	logger        *slog.Logger
	metrics       *metrics.Metrics
	notifier      notify.Notifier
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics wires Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithNotifier sets the alert channel for hard failures.
func WithNotifier(n notify.Notifier) Option {
	return func(g *Gate) {
		g.notifier = n
	}
}

// New constructs a Gate. expectedTotal is the known national municipality
// count the store must match exactly.
func New(st store.MunicipalityStore, expectedTotal int, opts ...Option) (*Gate, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if expectedTotal <= 0 {
		return nil, fmt.Errorf("expected total must be positive, got %d", expectedTotal)
	}
	g := &Gate{
		store:         st,
		expectedTotal: expectedTotal,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Verify runs the full battery against a single snapshot read. The result is
// deterministic: violations are sorted by entity key then rule, so repeated
// invocations over the same snapshot produce the same report.
func (g *Gate) Verify(ctx context.Context) (Report, error) {
	entities, err := g.store.ListAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list entities: %w", err)
	}

	report := Report{Metrics: SoftMetrics{Total: len(entities)}}

	if len(entities) != g.expectedTotal {
		report.Violations = append(report.Violations, Violation{
			Rule:   RuleTotalCount,
			Detail: fmt.Sprintf("entity count mismatch: got %d, want %d", len(entities), g.expectedTotal),
		})
	}

	seenJIS := make(map[string]struct{}, len(entities))
	seenSlug := make(map[string]string, len(entities))
	for _, m := range entities {
		if _, dup := seenJIS[m.JISCode]; dup {
			report.Violations = append(report.Violations, Violation{
				JISCode: m.JISCode,
				Rule:    RuleDuplicateJIS,
				Detail:  "jis code appears more than once",
			})
		}
		seenJIS[m.JISCode] = struct{}{}

		if m.Slug == "" {
			report.Violations = append(report.Violations, Violation{
				JISCode: m.JISCode,
				Rule:    RuleEmptySlug,
				Detail:  "municipality slug is empty",
			})
		} else {
			slugKey := m.PrefectureCode + "/" + m.Slug
			if first, dup := seenSlug[slugKey]; dup {
				report.Violations = append(report.Violations, Violation{
					JISCode: m.JISCode,
					Rule:    RuleDuplicateSlug,
					Detail:  fmt.Sprintf("slug %q already used by %s in the same prefecture", m.Slug, first),
				})
			} else {
				seenSlug[slugKey] = m.JISCode
			}
		}

		for _, link := range []struct{ field, value string }{{"url", m.URL}, {"pdfUrl", m.PDFURL}} {
			field, u := link.field, link.value
			if u != "" && !strings.HasPrefix(u, "http") {
				report.Violations = append(report.Violations, Violation{
					JISCode: m.JISCode,
					Rule:    RuleURLFormat,
					Detail:  fmt.Sprintf("%s does not start with http: %q", field, u),
				})
			}
		}

		if m.LinkStatus == domain.LinkStatusPDFOnly && m.URL != "" {
			report.Violations = append(report.Violations, Violation{
				JISCode: m.JISCode,
				Rule:    RulePDFExclusive,
				Detail:  fmt.Sprintf("status is PDF_ONLY but url is set: %q", m.URL),
			})
		}

		if !m.HasLink() {
			report.Metrics.MissingLink++
		}
		if m.HasDomainWarning {
			report.Metrics.DomainWarning++
		}
		switch m.LinkStatus {
		case domain.LinkStatusBroken:
			report.Metrics.Broken++
		case domain.LinkStatusNeedsReview:
			report.Metrics.NeedsReview++
		}
	}

	sort.SliceStable(report.Violations, func(i, j int) bool {
		if report.Violations[i].JISCode != report.Violations[j].JISCode {
			return report.Violations[i].JISCode < report.Violations[j].JISCode
		}
		return report.Violations[i].Rule < report.Violations[j].Rule
	})
	report.Passed = len(report.Violations) == 0

	g.metrics.ObserveGate(report.Passed, len(report.Violations))
	if report.Passed {
		g.logger.Info("quality gate passed",
			"total", report.Metrics.Total,
			"missing_link", report.Metrics.MissingLink,
			"domain_warning", report.Metrics.DomainWarning,
			"broken", report.Metrics.Broken)
	} else {
		g.logger.Error("quality gate failed", "violations", len(report.Violations))
		g.alert(ctx, report)
	}

	return report, nil
}

// alert raises the critical operational alert for a hard failure. Delivery
// problems are the notifier's to swallow; the gate result stands regardless.
func (g *Gate) alert(ctx context.Context, report Report) {
	if g.notifier == nil {
		return
	}
	var lines []string
	for i, v := range report.Violations {
		if i == alertViolationCap {
			lines = append(lines, fmt.Sprintf("... and %d more", len(report.Violations)-i))
			break
		}
		lines = append(lines, v.String())
	}
	g.notifier.Notify(ctx, notify.Alert{
		Title:   "municipality data quality gate failed",
		Message: strings.Join(lines, "\n"),
		Level:   notify.LevelCritical,
		Metadata: map[string]string{
			"violations": strconv.Itoa(len(report.Violations)),
			"total":      strconv.Itoa(report.Metrics.Total),
		},
	})
}
