package health

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/c360/phasorstreams/component"
)

type stubComponent struct {
	name   string
	health component.HealthStatus
}

func (s stubComponent) Meta() component.Metadata        { return component.Metadata{Name: s.name} }
func (s stubComponent) Health() component.HealthStatus  { return s.health }
func (s stubComponent) DataFlow() component.FlowMetrics { return component.FlowMetrics{} }
func (s stubComponent) Initialize() error               { return nil }
func (s stubComponent) Start(context.Context) error     { return nil }
func (s stubComponent) Stop(time.Duration) error        { return nil }

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			if got.Status != tt.want {
				t.Errorf("Aggregate() status = %s, want %s", got.Status, tt.want)
			}
			if got.Healthy != (tt.want == StatusHealthy) {
				t.Errorf("Aggregate() healthy = %v", got.Healthy)
			}
			if len(got.SubStatuses) != len(tt.subs) {
				t.Errorf("Aggregate() kept %d sub-statuses, want %d", len(got.SubStatuses), len(tt.subs))
			}
		})
	}
}

func TestFromComponentHealth(t *testing.T) {
	down := FromComponentHealth("PMU1", component.HealthStatus{
		Healthy:    false,
		ErrorCount: 3,
		LastError:  "dial tcp 10.0.0.12:4712: connection refused",
	})
	if !down.IsUnhealthy() {
		t.Fatalf("expected unhealthy, got %s", down.Status)
	}
	if strings.Contains(down.Message, "10.0.0.12") || strings.Contains(down.Message, "4712") {
		t.Errorf("message not sanitized: %q", down.Message)
	}
	if down.Metrics == nil || down.Metrics.ErrorCount != 3 {
		t.Errorf("metrics not carried: %+v", down.Metrics)
	}

	recovering := FromComponentHealth("PMU1", component.HealthStatus{Healthy: true, LastError: "parse failed"})
	if !recovering.IsDegraded() {
		t.Errorf("expected degraded, got %s", recovering.Status)
	}

	fine := FromComponentHealth("PMU1", component.HealthStatus{Healthy: true})
	if !fine.IsHealthy() || fine.Message != "Component healthy" {
		t.Errorf("unexpected status %+v", fine)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := map[string]string{
		"":                                    "",
		"server=10.1.1.1:4712; port=4712 bad": "server=[REDACTED]; port=[REDACTED] bad",
		"nats://user:pw@host:4222 down":       "[URL] down",
		"open /var/lib/phasor/cache.db":       "open [PATH]",
		"token=abc123 rejected":               "[REDACTED] rejected",
	}
	for in, want := range tests {
		if got := sanitizeErrorMessage(in); got != want {
			t.Errorf("sanitizeErrorMessage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.Refresh([]component.LifecycleComponent{
		stubComponent{name: "PDC1", health: component.HealthStatus{Healthy: true}},
		stubComponent{name: "PMU1", health: component.HealthStatus{Healthy: false}},
	})
	if m.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", m.Count())
	}

	status, ok := m.Get("PMU1")
	if !ok || !status.IsUnhealthy() || status.Timestamp.IsZero() {
		t.Errorf("unexpected PMU1 status %+v", status)
	}

	agg := m.AggregateHealth("phasorstreams")
	if !agg.IsUnhealthy() {
		t.Errorf("aggregate = %s, want unhealthy", agg.Status)
	}
	if agg.SubStatuses[0].Component != "PDC1" {
		t.Errorf("sub-statuses not ordered: %s first", agg.SubStatuses[0].Component)
	}

	m.Remove("PMU1")
	m.Update("renamed", Status{Component: "other", Status: StatusHealthy})
	if got, _ := m.Get("renamed"); got.Component != "renamed" {
		t.Errorf("Update did not set component name, got %q", got.Component)
	}
	if !m.AggregateHealth("phasorstreams").IsHealthy() {
		t.Error("expected healthy aggregate after removing PMU1")
	}
}
