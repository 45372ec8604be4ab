package core

import (
	"context"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ModuleID is the namespaced identifier of a module, "namespace.name":
// "provider.deepseek", "store.sqlite", "gateway.http".
type ModuleID string

var moduleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9]*\.[a-z][a-z0-9_]*$`)

// Valid reports whether id has the "namespace.name" form.
func (id ModuleID) Valid() bool {
	return moduleIDPattern.MatchString(string(id))
}

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return string(id[:i])
		}
	}
	return string(id)
}

// Name returns the part of the ID after the first dot.
func (id ModuleID) Name() string {
	ns := id.Namespace()
	if len(ns) == len(id) {
		return ""
	}
	return string(id[len(ns)+1:])
}

// Module is implemented by every pluggable component.
type Module interface {
	ModuleInfo() ModuleInfo
}

// ModuleInfo describes a module and how to create new instances of it.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// A module implements any subset of the lifecycle interfaces below. Loading
// runs New, Configure, Provision and Validate in that order; the App then
// calls Start in load order and Stop in reverse.

// Configurable modules receive their section of the "modules" map.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules set defaults, open resources and register services.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their provisioned state. Validate must be
// read-only.
type Validator interface {
	Validate() error
}

// Starter modules run background work such as listeners or schedulers.
type Starter interface {
	Start() error
}

// Stopper modules release resources. Stop is also called on modules that
// were loaded but never started.
type Stopper interface {
	Stop(ctx context.Context) error
}
