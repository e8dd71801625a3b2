package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"

	"github.com/joshuapare/heapkit/heap"
)

var errBadConfig = errors.New("heapctl: bad config")

// byteSize is a YAML scalar that accepts plain integers or sizes such as
// "64KB" and "1MB".
type byteSize int

func (s *byteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int
	if err := unmarshal(&n); err == nil {
		*s = byteSize(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	v, err := parseSize(str)
	if err != nil {
		return err
	}
	*s = byteSize(v)
	return nil
}

func parseSize(str string) (int, error) {
	b, err := bytesize.Parse(str)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %v", errBadConfig, str, err)
	}
	return int(b), nil
}

// simConfig is the simulate command's configuration file.
type simConfig struct {
	Heap struct {
		RegionSize    byteSize `yaml:"region_size"`
		MaxRegionSize byteSize `yaml:"max_region_size"`
		Audit         string   `yaml:"audit"`
		MissedPtrs    bool     `yaml:"audit_missed_pointers"`
		Finalizers    string   `yaml:"finalizers"`
		TrackSites    bool     `yaml:"track_sites"`
		Stats         bool     `yaml:"stats"`
		Trace         bool     `yaml:"trace"`
		BatchRoots    bool     `yaml:"batch_roots"`
	} `yaml:"heap"`

	Workload struct {
		// Rounds is the number of allocate-then-collect rounds.
		Rounds int `yaml:"rounds"`
		// Lists is the number of linked lists kept live on the stack.
		Lists int `yaml:"lists"`
		// Length is the number of nodes per list.
		Length int `yaml:"length"`
		// Garbage is the number of unreachable records allocated per round.
		Garbage int `yaml:"garbage"`
		// Payload is the garbage record size.
		Payload byteSize `yaml:"payload"`
		// Finalizable marks every garbage record with a counting finalizer.
		Finalizable bool `yaml:"finalizable"`
	} `yaml:"workload"`
}

func defaultSimConfig() simConfig {
	var c simConfig
	c.Heap.RegionSize = 256 << 10
	c.Heap.MaxRegionSize = 64 << 20
	c.Heap.Audit = "off"
	c.Heap.Finalizers = "immediate"
	c.Heap.Stats = true
	c.Workload.Rounds = 4
	c.Workload.Lists = 4
	c.Workload.Length = 100
	c.Workload.Garbage = 1000
	c.Workload.Payload = 64
	return c
}

// loadSimConfig reads path over the defaults. An empty path yields the defaults.
func loadSimConfig(path string) (simConfig, error) {
	c := defaultSimConfig()
	if path == "" {
		return c, c.validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	return parseSimConfig(data)
}

func parseSimConfig(data []byte) (simConfig, error) {
	c := defaultSimConfig()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return c, fmt.Errorf("%w: %v", errBadConfig, err)
	}
	return c, c.validate()
}

func (c simConfig) validate() error {
	if c.Heap.RegionSize <= 0 {
		return fmt.Errorf("%w: region_size must be positive", errBadConfig)
	}
	if c.Heap.MaxRegionSize < c.Heap.RegionSize {
		return fmt.Errorf("%w: max_region_size %d below region_size %d",
			errBadConfig, c.Heap.MaxRegionSize, c.Heap.RegionSize)
	}
	if _, err := c.auditMode(); err != nil {
		return err
	}
	if _, err := c.finalizerMode(); err != nil {
		return err
	}
	w := c.Workload
	if w.Rounds < 0 || w.Lists < 0 || w.Length < 0 || w.Garbage < 0 || w.Payload < 0 {
		return fmt.Errorf("%w: workload counts must not be negative", errBadConfig)
	}
	return nil
}

func (c simConfig) auditMode() (heap.AuditMode, error) {
	switch c.Heap.Audit {
	case "", "off":
		return heap.AuditOff, nil
	case "advisory":
		return heap.AuditAdvisory, nil
	case "strict":
		return heap.AuditStrict, nil
	default:
		return 0, fmt.Errorf("%w: audit %q (want off, advisory or strict)", errBadConfig, c.Heap.Audit)
	}
}

func (c simConfig) finalizerMode() (heap.FinalizerMode, error) {
	switch c.Heap.Finalizers {
	case "", "immediate":
		return heap.FinalizeImmediate, nil
	case "deferred":
		return heap.FinalizeDeferred, nil
	default:
		return 0, fmt.Errorf("%w: finalizers %q (want immediate or deferred)", errBadConfig, c.Heap.Finalizers)
	}
}

// heapConfig converts the file's heap section.
func (c simConfig) heapConfig() heap.Config {
	audit, _ := c.auditMode()
	fin, _ := c.finalizerMode()
	return heap.Config{
		RegionSize:          int(c.Heap.RegionSize),
		MaxRegionSize:       int(c.Heap.MaxRegionSize),
		Stats:               c.Heap.Stats,
		Trace:               c.Heap.Trace,
		Audit:               audit,
		AuditMissedPointers: c.Heap.MissedPtrs,
		TrackSites:          c.Heap.TrackSites,
		Finalizers:          fin,
		BatchRoots:          c.Heap.BatchRoots,
		Logger:              newLogger(),
	}
}
