package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

var (
	modules   = make(map[ModuleID]ModuleInfo)
	modulesMu sync.RWMutex
)

// RegisterModule adds a module to the compiled set. It is called from the
// init function of each module package and panics on an invalid or
// duplicate ID.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if !info.ID.Valid() {
		panic(fmt.Sprintf("core: invalid module ID %q (want namespace.name)", info.ID))
	}
	if info.New == nil {
		panic(fmt.Sprintf("core: module %s: New must not be nil", info.ID))
	}

	modulesMu.Lock()
	defer modulesMu.Unlock()
	if _, exists := modules[info.ID]; exists {
		panic(fmt.Sprintf("core: module already registered: %s", info.ID))
	}
	modules[info.ID] = info
}

// GetModule returns the ModuleInfo registered under id.
func GetModule(id string) (ModuleInfo, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	info, ok := modules[ModuleID(id)]
	return info, ok
}

// GetModules returns every registered module sorted by ID.
func GetModules() []ModuleInfo {
	return filterModules(func(ModuleInfo) bool { return true })
}

// GetModulesByNamespace returns the registered modules of one namespace,
// e.g. every compiled "provider" module.
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return filterModules(func(info ModuleInfo) bool {
		return info.ID.Namespace() == namespace
	})
}

func filterModules(keep func(ModuleInfo) bool) []ModuleInfo {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	var result []ModuleInfo
	for _, info := range modules {
		if keep(info) {
			result = append(result, info)
		}
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int { return cmp.Compare(a.ID, b.ID) })
	return result
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[ModuleID]ModuleInfo)
}
