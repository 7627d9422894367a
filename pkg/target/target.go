// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package target describes the device a group is lowered for.
package target

import (
	"fmt"

	"github.com/pkg/errors"
)

// Arch is the architecture of a Target.
type Arch int

//go:generate go tool enumer -type=Arch -trimprefix=Arch -output=gen_arch_enumer.go target.go

const (
	ArchUnknown Arch = iota
	ArchHost
	ArchX86
	ArchNVGPU
)

// Target describes the device lowered functions are generated for.
type Target struct {
	Arch Arch

	// MaxThreadsPerBlock and WarpSize only matter for GPU targets.
	MaxThreadsPerBlock int
	WarpSize           int
}

// Host returns the default CPU target.
func Host() Target {
	return Target{Arch: ArchHost}
}

// NVGPU returns the default NVidia GPU target.
func NVGPU() Target {
	return Target{Arch: ArchNVGPU, MaxThreadsPerBlock: 1024, WarpSize: 32}
}

// IsGPU returns whether the target is a GPU: loops get bound to blocks and threads.
func (t Target) IsGPU() bool {
	return t.Arch == ArchNVGPU
}

// String implements fmt.Stringer.
func (t Target) String() string {
	if t.IsGPU() {
		return fmt.Sprintf("%s(threads=%d, warp=%d)", t.Arch, t.MaxThreadsPerBlock, t.WarpSize)
	}
	return t.Arch.String()
}

// Parse returns the default target for the given architecture name (case-insensitive), e.g. "host" or "nvgpu".
func Parse(name string) (Target, error) {
	arch, err := ArchString(name)
	if err != nil {
		return Target{}, errors.Wrapf(err, "unknown target %q, valid values are %v", name, ArchStrings()[1:])
	}
	switch arch {
	case ArchNVGPU:
		return NVGPU(), nil
	case ArchUnknown:
		return Target{}, errors.Errorf("target %q is not a valid target", name)
	default:
		return Target{Arch: arch}, nil
	}
}
