package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jonwraymond/relia/config"
	"github.com/jonwraymond/relia/resilience"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.Style().Title.Format = text.FormatDefault
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func renderProfile(w io.Writer, cfg *config.Config, name string, p config.Profile) {
	t := newTable(w, fmt.Sprintf("%s / %s", cfg.Service, name))
	t.AppendHeader(table.Row{"Component", "Setting", "Value"})

	for _, domain := range sortedNames(p.Limiters) {
		l := p.Limiters[domain]
		t.AppendRow(table.Row{"limiter " + domain, "capacity", l.Capacity})
		t.AppendRow(table.Row{"limiter " + domain, "refill_rate", fmt.Sprintf("%g/s", l.RefillRate)})
	}
	if c := p.Circuit; c != nil {
		t.AppendRow(table.Row{"circuit", "failure_threshold", orDefault(c.FailureThreshold)})
		t.AppendRow(table.Row{"circuit", "reset_timeout", durationOrDefault(c.ResetTimeout)})
		t.AppendRow(table.Row{"circuit", "half_open_success_threshold", orDefault(c.HalfOpenSuccessThreshold)})
	}
	if p.Dedup {
		t.AppendRow(table.Row{"dedup", "enabled", true})
	}
	if r := p.Retry; r != nil {
		retries := orDefault(r.MaxRetries)
		if r.MaxRetries < 0 {
			retries = "disabled"
		}
		t.AppendRow(table.Row{"retry", "max_retries", retries})
		t.AppendRow(table.Row{"retry", "initial_delay", durationOrDefault(r.InitialDelay)})
		t.AppendRow(table.Row{"retry", "multiplier", floatOrDefault(r.Multiplier)})
		t.AppendRow(table.Row{"retry", "max_delay", durationOrDefault(r.MaxDelay)})
		t.AppendRow(table.Row{"retry", "jitter", fmt.Sprintf("%g", r.Jitter)})
	}
	if b := p.Bulkhead; b != nil {
		t.AppendRow(table.Row{"bulkhead", "max_concurrent", orDefault(b.MaxConcurrent)})
		t.AppendRow(table.Row{"bulkhead", "max_wait", durationOrDefault(b.MaxWait)})
	}
	if p.Timeout > 0 {
		t.AppendRow(table.Row{"timeout", "duration", p.Timeout.String()})
	}

	order := p.Order
	if len(order) == 0 {
		order = resilience.DefaultOrder
	}
	t.AppendFooter(table.Row{"order", "", joinPolicies(order)})
	t.Render()
}

func renderProbe(w io.Writer, runID, target string, results []probeResult) {
	t := newTable(w, fmt.Sprintf("probe %s (run %s)", target, runID))
	t.AppendHeader(table.Row{"#", "Status", "Outcome", "Duration", "Error"})

	ok := 0
	for _, r := range results {
		status := "-"
		if r.Status > 0 {
			status = fmt.Sprint(r.Status)
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		if r.Outcome == outcomeOK {
			ok++
		}
		t.AppendRow(table.Row{r.Seq, status, r.Outcome, r.Duration.Round(time.Microsecond), errText})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d ok", ok, len(results)), "", ""})
	t.Render()
}

func renderCounters(w io.Writer, s resilience.CounterSnapshot) {
	t := newTable(w, "events")
	t.AppendHeader(table.Row{"Event", "Count"})
	t.AppendRows([]table.Row{
		{"rate limited", s.RateLimited},
		{"circuit rejected", s.CircuitRejected},
		{"circuit state changes", s.StateChanges},
		{"circuit opened", s.CircuitOpened},
		{"dedup executed", s.DedupExecuted},
		{"dedup shared", s.DedupShared},
		{"retries", s.Retries},
		{"retries exhausted", s.RetryExhausted},
		{"gave up", s.GaveUp},
		{"bulkhead rejected", s.BulkheadRejected},
		{"timeouts", s.Timeouts},
	})
	t.Render()
}

func renderCircuits(w io.Writer, snapshots []resilience.CircuitSnapshot) {
	if len(snapshots) == 0 {
		return
	}
	t := newTable(w, "circuits")
	t.AppendHeader(table.Row{"Service", "State", "Failures", "Open Until"})
	for _, s := range snapshots {
		until := "-"
		if !s.OpenUntil.IsZero() {
			until = s.OpenUntil.UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{s.Service, s.State.String(), s.Failures, until})
	}
	t.Render()
}

func orDefault(n int) any {
	if n == 0 {
		return "default"
	}
	return n
}

func floatOrDefault(f float64) string {
	if f == 0 {
		return "default"
	}
	return fmt.Sprintf("%g", f)
}

func durationOrDefault(d time.Duration) string {
	if d == 0 {
		return "default"
	}
	return d.String()
}

func joinPolicies(order []resilience.Policy) string {
	names := make([]string, len(order))
	for i, p := range order {
		names[i] = string(p)
	}
	return strings.Join(names, " > ")
}
