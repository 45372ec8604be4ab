package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/fanyi/internal/core"
)

// loadPhase orders module namespaces. Stores come first so providers and
// the gateway can find the KV service; the gateway comes last.
var loadPhase = map[string]int{
	"store":     0,
	"telemetry": 1,
	"provider":  2,
	"gateway":   4,
}

const defaultPhase = 3

// Resolve returns the configured module IDs in load order: by namespace
// phase, then alphabetically within a phase.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(phase(a), phase(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}

func phase(id string) int {
	if p, ok := loadPhase[core.ModuleID(id).Namespace()]; ok {
		return p
	}
	return defaultPhase
}
