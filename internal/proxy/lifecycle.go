package proxy

import "github.com/zjrosen/simput/internal/value"

// Lifecycle observes manager operations at fixed points. Hooks run
// synchronously on the goroutine driving the manager; they must not call back
// into the manager from Before hooks of the same operation.
//
// Embed NopLifecycle to implement a subset of the hooks.
type Lifecycle interface {
	SetManager(m *Manager)

	BeforeLoadModel(types map[string]map[string]any)
	AfterLoadModel(text []byte)

	BeforeModified(mtime uint64)
	AfterModified(mtime uint64)

	ProxyCreateBefore(typeName string, values map[string]value.Value)
	ProxyCreateBeforeCommit(typeName string, values map[string]value.Value, p *Proxy)
	ProxyCreateAfterCommit(typeName string, values map[string]value.Value, p *Proxy)

	ProxyDeleteBefore(id string, triggerModified bool)
	ProxyDeleteAfterSelf(id string, triggerModified bool, p *Proxy)
	ProxyDeleteAfterOwn(id string, triggerModified bool, p *Proxy)

	ProxyUpdateBefore(changes []Change)
	ProxyUpdateAfter(changes []Change, dirtyIDs []string)

	ExportBefore(destination string)
	ExportAfter(destination string, doc *Document)

	ImportBefore(source string, content []byte)
	ImportBeforeProcessing(source string, doc *Document)
	ImportAfter(source string, doc *Document, newIDs []string, idMap map[string]string)
}

// NopLifecycle implements every Lifecycle hook as a no-op.
type NopLifecycle struct{}

func (NopLifecycle) SetManager(*Manager) {}

func (NopLifecycle) BeforeLoadModel(map[string]map[string]any) {}
func (NopLifecycle) AfterLoadModel([]byte)                     {}

func (NopLifecycle) BeforeModified(uint64) {}
func (NopLifecycle) AfterModified(uint64)  {}

func (NopLifecycle) ProxyCreateBefore(string, map[string]value.Value)               {}
func (NopLifecycle) ProxyCreateBeforeCommit(string, map[string]value.Value, *Proxy) {}
func (NopLifecycle) ProxyCreateAfterCommit(string, map[string]value.Value, *Proxy)  {}

func (NopLifecycle) ProxyDeleteBefore(string, bool)            {}
func (NopLifecycle) ProxyDeleteAfterSelf(string, bool, *Proxy) {}
func (NopLifecycle) ProxyDeleteAfterOwn(string, bool, *Proxy)  {}

func (NopLifecycle) ProxyUpdateBefore([]Change)          {}
func (NopLifecycle) ProxyUpdateAfter([]Change, []string) {}

func (NopLifecycle) ExportBefore(string)           {}
func (NopLifecycle) ExportAfter(string, *Document) {}

func (NopLifecycle) ImportBefore(string, []byte)                                {}
func (NopLifecycle) ImportBeforeProcessing(string, *Document)                   {}
func (NopLifecycle) ImportAfter(string, *Document, []string, map[string]string) {}

var _ Lifecycle = NopLifecycle{}
