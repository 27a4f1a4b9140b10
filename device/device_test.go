package device

import (
	"bytes"
	"strings"
	"testing"
)

func TestSelect(t *testing.T) {
	d := Select(true)
	if d.Kind != CPU || !strings.Contains(d.Reason, "no accelerator") {
		t.Errorf("unexpected device %s", d)
	}
	if Select(false).Reason != "gpu disabled" {
		t.Error("expected gpu disabled reason")
	}
}

func TestProbeAndReport(t *testing.T) {
	info := Probe()
	if info.LogicalCores <= 0 {
		t.Fatalf("expected at least one logical core, got %d", info.LogicalCores)
	}
	if info.Workers() < 1 {
		t.Errorf("expected at least one worker, got %d", info.Workers())
	}

	var buf bytes.Buffer
	Report(&buf, Select(false), Info{Brand: "Test CPU", PhysicalCores: 4, LogicalCores: 8, Features: []string{"AVX2", "FMA3"}})
	want := "Device: cpu (gpu disabled)\nCPU: Test CPU, 4 physical / 8 logical cores, features: AVX2 FMA3\n"
	if buf.String() != want {
		t.Errorf("unexpected report:\n%s", buf.String())
	}
	if (Info{LogicalCores: 1}).Workers() != 1 {
		t.Error("expected a single worker on one core")
	}
}
