package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors serverFlags for the subset of knobs worth setting from
// a checked-in file instead of the command line (deployment-specific
// addresses and backend selection). Cobra flags explicitly passed on the
// command line take precedence over the file.
type fileConfig struct {
	Addr          string        `yaml:"addr"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	PprofAddr     string        `yaml:"pprof_addr"`
	CacheSize     int64         `yaml:"cache_size"`
	CacheCapacity int           `yaml:"cache_capacity"`
	AdmitWrite    *bool         `yaml:"admit_write"`
	AllocTotalBW  *bool         `yaml:"alloc_total_net_bw"`
	DynamoTable   string        `yaml:"dynamo_table"`
	MockBackend   *bool         `yaml:"mock"`
	MockLatency   time.Duration `yaml:"mock_latency"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cmd: read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("cmd: parse config %s: %w", path, err)
	}
	return &fc, nil
}

// applyFileConfig fills any flag the caller left at its zero value from fc.
// changed reports whether a given flag name was set explicitly on the
// command line (via cmd.Flags().Changed), which always wins over the file.
func applyFileConfig(f *serverFlags, fc *fileConfig, changed func(name string) bool) {
	if fc.Addr != "" && !changed("addr") {
		f.addr = fc.Addr
	}
	if fc.MetricsAddr != "" && !changed("metrics-addr") {
		f.metricsAddr = fc.MetricsAddr
	}
	if fc.PprofAddr != "" && !changed("pprof-addr") {
		f.pprofAddr = fc.PprofAddr
	}
	if fc.CacheSize != 0 && !changed("cache-size") {
		f.cacheSize = fc.CacheSize
	}
	if fc.CacheCapacity != 0 && !changed("cache-capacity") {
		f.cacheCapacity = fc.CacheCapacity
	}
	if fc.AdmitWrite != nil && !changed("admit-write") {
		f.admitWrite = *fc.AdmitWrite
	}
	if fc.AllocTotalBW != nil && !changed("alloc-total-net-bw") {
		f.allocTotalBW = *fc.AllocTotalBW
	}
	if fc.DynamoTable != "" && !changed("dynamo-table") {
		f.dynamoTable = fc.DynamoTable
	}
	if fc.MockBackend != nil && !changed("mock") {
		f.mockBackend = *fc.MockBackend
	}
	if fc.MockLatency != 0 && !changed("mock-latency") {
		f.mockLatency = fc.MockLatency
	}
}
