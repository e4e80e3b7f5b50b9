package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordUpdate("WEB", OutcomeProcessed)
	m.RecordSaved("WEB", 3)
	m.RecordProviderError("VK", "search")
	m.ObserveSync("VK", time.Second)
	m.SetThrottleBacklog(4)
	m.RecordVKRequest("wall.get", nil)
	m.SetDownloads(1, 2)
	m.SetFanIn(5)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordUpdate("WEB", OutcomeProcessed)
	m.RecordUpdate("WEB", OutcomeProcessed)
	m.RecordUpdate("VK", OutcomeFailed)
	m.RecordSaved("WEB", 3)
	m.RecordSaved("WEB", 0)
	m.RecordVKRequest("wall.get", errors.New("boom"))

	if got := testutil.ToFloat64(m.updates.WithLabelValues("WEB", "processed")); got != 2 {
		t.Errorf("processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.updates.WithLabelValues("VK", "failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.recordsSaved.WithLabelValues("WEB")); got != 3 {
		t.Errorf("saved = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.vkRequests.WithLabelValues("wall.get", "error")); got != 1 {
		t.Errorf("vk errors = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetDownloads(1, 4)
	m.SetThrottleBacklog(7)
	m.SetFanIn(9)

	if got := testutil.ToFloat64(m.downloadsWaiting); got != 4 {
		t.Errorf("waiting = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.throttleBacklog); got != 7 {
		t.Errorf("backlog = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.fanIn); got != 9 {
		t.Errorf("fan-in = %v, want 9", got)
	}
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
