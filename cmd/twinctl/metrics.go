package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/c360/semtwin/errors"
)

// Metric families exported by the rule engine and the ingester
const (
	familyDelivered       = "semtwin_rule_events_delivered_total"
	familyRejected        = "semtwin_rule_events_rejected_total"
	familyExecution       = "semtwin_rule_execution_duration_seconds"
	familyEvalErrors      = "semtwin_rule_evaluation_errors_total"
	familyRebuildFailures = "semtwin_rule_snapshot_rebuild_failures_total"
	familyAbandoned       = "semtwin_rule_abandoned_total"
	familyActiveRules     = "semtwin_rule_active_rules"
	familyIngest          = "semtwin_ingest_messages_total"
)

// RuleStats are the counters of one rule
type RuleStats struct {
	Rule             string `json:"rule"`
	Delivered        uint64 `json:"delivered"`
	Rejected         uint64 `json:"rejected"`
	Evaluations      uint64 `json:"evaluations"`
	EvaluationErrors uint64 `json:"evaluation_errors"`
	RebuildFailures  uint64 `json:"rebuild_failures"`
	Abandoned        uint64 `json:"abandoned"`
}

// MetricsReport summarizes a semtwin metrics exposition
type MetricsReport struct {
	ActiveRules int               `json:"active_rules"`
	Rules       []RuleStats       `json:"rules"`
	Ingest      map[string]uint64 `json:"ingest,omitempty"`
}

// NewMetricsCommand creates the metrics command
func NewMetricsCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "metrics <url|file>",
		Short: "Summarize rule and ingest metrics from a running gateway or a saved scrape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			families, err := readMetrics(ctx, args[0])
			if err != nil {
				return err
			}
			report := summarize(families)

			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(w, report)
			}
			return writeMetricsReport(w, report)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "scrape timeout")
	return cmd
}

// readMetrics parses the Prometheus text format from an HTTP endpoint or a
// local file
func readMetrics(ctx context.Context, source string) (map[string]*dto.MetricFamily, error) {
	var r io.Reader
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, errors.WrapInvalid(err, "twinctl", "readMetrics", "create http request")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, errors.WrapTransient(err, "twinctl", "readMetrics", "fetch metrics")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.WrapTransient(fmt.Errorf("unexpected status code: %d", resp.StatusCode),
				"twinctl", "readMetrics", "check http status")
		}
		r = resp.Body
	} else {
		clean := filepath.Clean(source)
		if strings.Contains(clean, "..") {
			return nil, errors.WrapInvalid(fmt.Errorf("path traversal not allowed: %s", source),
				"twinctl", "readMetrics", "validate path")
		}
		f, err := os.Open(clean)
		if err != nil {
			return nil, errors.WrapInvalid(err, "twinctl", "readMetrics", "open metrics file")
		}
		defer f.Close()
		r = f
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "twinctl", "readMetrics", "parse prometheus text format")
	}
	return families, nil
}

func summarize(families map[string]*dto.MetricFamily) MetricsReport {
	rules := make(map[string]*RuleStats)
	stats := func(name string) *RuleStats {
		s, ok := rules[name]
		if !ok {
			s = &RuleStats{Rule: name}
			rules[name] = s
		}
		return s
	}

	counters := map[string]func(*RuleStats, uint64){
		familyDelivered:       func(s *RuleStats, v uint64) { s.Delivered = v },
		familyRejected:        func(s *RuleStats, v uint64) { s.Rejected = v },
		familyEvalErrors:      func(s *RuleStats, v uint64) { s.EvaluationErrors = v },
		familyRebuildFailures: func(s *RuleStats, v uint64) { s.RebuildFailures = v },
		familyAbandoned:       func(s *RuleStats, v uint64) { s.Abandoned = v },
	}
	for name, set := range counters {
		family, ok := families[name]
		if !ok || family.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range family.GetMetric() {
			if rule := labelValue(m, "rule"); rule != "" {
				set(stats(rule), uint64(m.GetCounter().GetValue()))
			}
		}
	}
	if family, ok := families[familyExecution]; ok && family.GetType() == dto.MetricType_HISTOGRAM {
		for _, m := range family.GetMetric() {
			if rule := labelValue(m, "rule"); rule != "" {
				stats(rule).Evaluations = m.GetHistogram().GetSampleCount()
			}
		}
	}

	var report MetricsReport
	if family, ok := families[familyActiveRules]; ok && len(family.GetMetric()) > 0 {
		report.ActiveRules = int(family.GetMetric()[0].GetGauge().GetValue())
	}
	if family, ok := families[familyIngest]; ok {
		report.Ingest = make(map[string]uint64)
		for _, m := range family.GetMetric() {
			report.Ingest[labelValue(m, "outcome")] = uint64(m.GetCounter().GetValue())
		}
	}

	report.Rules = make([]RuleStats, 0, len(rules))
	for _, s := range rules {
		report.Rules = append(report.Rules, *s)
	}
	sort.Slice(report.Rules, func(i, j int) bool { return report.Rules[i].Rule < report.Rules[j].Rule })
	return report
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func writeMetricsReport(w io.Writer, report MetricsReport) error {
	if _, err := fmt.Fprintf(w, "active rules: %d\n", report.ActiveRules); err != nil {
		return err
	}
	for _, s := range report.Rules {
		if _, err := fmt.Fprintf(w,
			"rule %s: delivered=%d rejected=%d evaluations=%d errors=%d rebuild_failures=%d abandoned=%d\n",
			s.Rule, s.Delivered, s.Rejected, s.Evaluations, s.EvaluationErrors, s.RebuildFailures, s.Abandoned); err != nil {
			return err
		}
	}
	if len(report.Ingest) == 0 {
		return nil
	}
	parts := make([]string, 0, len(report.Ingest))
	for _, outcome := range sortedKeys(report.Ingest) {
		parts = append(parts, fmt.Sprintf("%s=%d", outcome, report.Ingest[outcome]))
	}
	_, err := fmt.Fprintf(w, "ingest: %s\n", strings.Join(parts, " "))
	return err
}
