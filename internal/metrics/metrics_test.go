package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/planboard/backend/internal/change"
)

// gathered flattens a registry into "name{label=value,...}" -> value.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName() + "{"
			for i, lp := range m.GetLabel() {
				if i > 0 {
					key += ","
				}
				key += lp.GetName() + "=" + lp.GetValue()
			}
			key += "}"
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestCollectorCountsSessionLifecycle(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	c.SessionOpened("task_list")
	c.SessionOpened("task_list")
	c.Emitted("task_list", false)
	c.Emitted("task_list", true)
	c.Emitted("task_list", true)
	c.SessionClosed("task_list", "canceled")

	got := gathered(t, reg)
	want := map[string]float64{
		"planboard_live_active_sessions{feed=task_list}":                        1,
		"planboard_live_envelopes_emitted_total{feed=task_list,type=data}":      1,
		"planboard_live_envelopes_emitted_total{feed=task_list,type=heartbeat}": 2,
		"planboard_live_sessions_closed_total{feed=task_list,reason=canceled}":  1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestCollectorExportsListenersAndPanics(t *testing.T) {
	c := NewCollector()
	bus := change.NewBus(change.WithPanicHandler(c.ListenerPanicked))
	c.TrackListeners(bus)
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	bus.Subscribe(change.KindComment, func(change.Event) { panic("boom") })
	bus.Subscribe(change.KindComment, func(change.Event) {})
	bus.Publish(change.Event{Kind: change.KindComment, EntityID: "c1", ScopeID: "t1"})

	got := gathered(t, reg)
	if v := got["planboard_live_listeners{kind=comment}"]; v != 2 {
		t.Errorf("comment listeners = %v, want 2", v)
	}
	if v, ok := got["planboard_live_listeners{kind=task}"]; !ok || v != 0 {
		t.Errorf("task listeners = %v (present %v), want 0", v, ok)
	}
	if v := got["planboard_live_listener_panics_total{kind=comment}"]; v != 1 {
		t.Errorf("comment panics = %v, want 1", v)
	}
}
