package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObserveQueueAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := New(reg)

	tr.ObserveQueue(0, 100)
	tr.ObserveQueue(0, 50)
	tr.ObserveQueue(1, 10)

	snap := tr.Snapshot()
	if snap[0].Packets != 2 || snap[0].Bytes != 150 {
		t.Fatalf("queue 0: expected 2 packets/150 bytes, got %+v", snap[0])
	}
	if snap[1].Packets != 1 || snap[1].Bytes != 10 {
		t.Fatalf("queue 1: expected 1 packet/10 bytes, got %+v", snap[1])
	}
}

func TestDropQueueIncrementsIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := New(reg)

	tr.ObserveQueue(0, 10)
	tr.DropQueue(0)
	tr.DropQueue(0)

	snap := tr.Snapshot()
	if snap[0].Dropped != 2 {
		t.Fatalf("expected Dropped=2, got %d", snap[0].Dropped)
	}
	if snap[0].Packets != 1 {
		t.Fatalf("drop should not affect Packets count, got %d", snap[0].Packets)
	}
}

func TestNewWithNilRegistererDoesNotPanic(t *testing.T) {
	tr := New(nil)
	tr.ObserveVLAN(42, 64)
	tr.ObservePort(443, 64)
}
