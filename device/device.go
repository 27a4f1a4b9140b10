// Package device decides where a run executes and reports the host CPU.
package device

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Kind is the compute target of a run
type Kind string

const CPU Kind = "cpu"

// Device is the result of the one-time device decision
type Device struct {
	Kind   Kind
	Reason string
}

// Info describes the host processor
type Info struct {
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

// Select honours the gpu flag only when an accelerator backend is compiled
// in. This build has none, so every run is placed on the CPU.
func Select(wantGPU bool) Device {
	if wantGPU {
		return Device{Kind: CPU, Reason: "gpu requested but no accelerator backend is available"}
	}
	return Device{Kind: CPU, Reason: "gpu disabled"}
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Kind, d.Reason)
}

// Probe reads the host CPU capabilities
func Probe() Info {
	info := Info{
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "SSE4.1"},
		{cpuid.AVX, "AVX"},
		{cpuid.AVX2, "AVX2"},
		{cpuid.FMA3, "FMA3"},
		{cpuid.AVX512F, "AVX512F"},
		{cpuid.ASIMD, "ASIMD"},
	} {
		if cpuid.CPU.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}
	return info
}

// Workers suggests a prefetch worker count leaving one core to the
// training loop
func (i Info) Workers() int {
	return max(1, i.LogicalCores-1)
}

// Report prints the device decision and CPU summary
func Report(out io.Writer, d Device, info Info) {
	brand := info.Brand
	if brand == "" {
		brand = "unknown cpu"
	}
	features := "none"
	if len(info.Features) > 0 {
		features = strings.Join(info.Features, " ")
	}
	fmt.Fprintf(out, "Device: %s\n", d)
	fmt.Fprintf(out, "CPU: %s, %d physical / %d logical cores, features: %s\n",
		brand, info.PhysicalCores, info.LogicalCores, features)
}
