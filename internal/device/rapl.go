// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package device reads RAPL energy and power-limit registers through the msr
// driver.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/procfs"
)

// EventPrefix marks event names served by the RAPL backend
const EventPrefix = "RAPL:"

var (
	ErrNotOpen         = errors.New("rapl: msr device not open")
	ErrInvalidArgument = errors.New("rapl: invalid argument")
	ErrUnknownEvent    = errors.New("rapl: unknown event")
	ErrRead            = errors.New("rapl: msr read failed")
)

// Handle identifies one RAPL counter on one CPU
type Handle struct {
	CPU    int
	Domain Domain
}

func (h Handle) String() string {
	return fmt.Sprintf("%s%s/cpu%d", EventPrefix, h.Domain, h.CPU)
}

// procFS is the part of procfs used for CPU identification
type procFS interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

type realProcFS struct {
	fs procfs.FS
}

func (r *realProcFS) CPUInfo() ([]procfs.CPUInfo, error) {
	return r.fs.CPUInfo()
}

type Opts struct {
	logger     *slog.Logger
	procfsPath string
	devicePath string
	procfs     procFS
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:     slog.Default(),
		procfsPath: "/proc",
		devicePath: "/dev/cpu/%d/msr",
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the RAPL backend
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithProcFSPath sets the procfs mount point used for CPU identification
func WithProcFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.procfsPath = path
	}
}

// WithDevicePath sets the msr device path template, e.g. /dev/cpu/%d/msr
func WithDevicePath(path string) OptionFn {
	return func(o *Opts) {
		o.devicePath = path
	}
}

// WithProcFS sets the cpuinfo source
func WithProcFS(fs procFS) OptionFn {
	return func(o *Opts) {
		o.procfs = fs
	}
}

// RAPL is the energy counter backend. Device files are opened on first use
// and shared by every handle on the same CPU.
type RAPL struct {
	logger     *slog.Logger
	devicePath string
	gen        *generation

	mu    sync.Mutex
	files map[int]*os.File
}

// NewRAPL identifies the CPU and selects its register layout. An unsupported
// or unidentifiable CPU yields a backend on which every Encode fails.
func NewRAPL(applyOpts ...OptionFn) *RAPL {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	r := &RAPL{
		logger:     opts.logger.With("service", "rapl"),
		devicePath: opts.devicePath,
		files:      make(map[int]*os.File),
	}

	fs := opts.procfs
	if fs == nil {
		pfs, err := procfs.NewFS(opts.procfsPath)
		if err != nil {
			r.logger.Warn("Unable to open procfs, RAPL disabled", "error", err)
			return r
		}
		fs = &realProcFS{fs: pfs}
	}

	cpus, err := fs.CPUInfo()
	if err != nil {
		r.logger.Warn("Unable to read cpuinfo, RAPL disabled", "error", err)
		return r
	}

	r.gen = detectGeneration(cpus)
	if r.gen == nil {
		r.logger.Info("CPU has no supported RAPL interface")
		return r
	}
	r.logger.Info("Detected RAPL support", "generation", r.gen.name, "domains", r.Domains())
	return r
}

// Supported reports whether a RAPL generation was detected
func (r *RAPL) Supported() bool {
	return r.gen != nil
}

// Domains lists the domains of the detected generation
func (r *RAPL) Domains() []string {
	if r.gen == nil {
		return nil
	}
	names := make([]string, len(r.gen.domains))
	for i, d := range r.gen.domains {
		names[i] = d.String()
	}
	return names
}

// Encode resolves an event name such as "RAPL:PKG_ENERGY" on a CPU
func (r *RAPL) Encode(name string, cpu int) (Handle, error) {
	if cpu < 0 {
		return Handle{}, fmt.Errorf("%w: cpu %d", ErrInvalidArgument, cpu)
	}

	domainName, ok := strings.CutPrefix(name, EventPrefix)
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	d, ok := ParseDomain(domainName)
	if !ok || r.gen == nil || !r.gen.supports(d) {
		return Handle{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	return Handle{CPU: cpu, Domain: d}, nil
}

// Open opens the msr device of the handle's CPU unless it is already open
func (r *RAPL) Open(h Handle) error {
	if h.CPU < 0 {
		return fmt.Errorf("%w: cpu %d", ErrInvalidArgument, h.CPU)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[h.CPU]; ok {
		return nil
	}

	path := fmt.Sprintf(r.devicePath, h.CPU)
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open MSR file %s: %w", path, err)
	}
	r.files[h.CPU] = file
	return nil
}

// Read returns the counter value in millijoules for energy domains and in
// milliwatts for the power info domains
func (r *RAPL) Read(h Handle) (uint64, error) {
	if h.CPU < 0 || h.Domain < 0 || h.Domain >= numDomains {
		return 0, fmt.Errorf("%w: %s", ErrInvalidArgument, h)
	}
	if r.gen == nil || !r.gen.supports(h.Domain) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEvent, h)
	}

	r.mu.Lock()
	file, ok := r.files[h.CPU]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: cpu %d", ErrNotOpen, h.CPU)
	}

	units, err := readMSR(file, r.gen.unitMSR)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRead, err)
	}

	if h.Domain.isPower() {
		info, err := readMSR(file, MSRPkgPowerInfo)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrRead, err)
		}
		return powerInfoValue(h.Domain, units, info).MilliWatts(), nil
	}

	raw, err := readMSR(file, r.gen.energyMSR[h.Domain])
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return energyValue(r.gen, h.Domain, units, raw).MilliJoules(), nil
}

// Close closes every msr device opened so far
func (r *RAPL) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for cpu, file := range r.files {
		if err := file.Close(); err != nil {
			r.logger.Warn("Failed to close MSR file", "cpu", cpu, "error", err)
			errs = append(errs, err)
		}
	}
	r.files = make(map[int]*os.File)
	return errors.Join(errs...)
}
