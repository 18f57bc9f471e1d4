// Package visitor implements the cross-VM variable visitor: a set of
// operations letting scripts running in a debugger runtime (D) inspect and
// mutate the state of a separate, independently embedded host runtime (H)
// through opaque reference blobs (package ref).
package visitor

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
)

const (
	anchorRefKey   = "__debugger_ref"
	anchorWatchKey = "__debugger_watch"
)

// Config configures a Visitor at construction time, in the style of
// lisp.Config (lisp/config.go) and debugger.Option (lisp/x/debugger/engine.go).
type Config func(*Visitor)

// WithLogger installs a custom logger. The default logs to logrus's
// standard logger.
func WithLogger(l *logrus.Logger) Config {
	return func(v *Visitor) { v.log = logrus.NewEntry(l) }
}

// WithMaxDescriptorLen bounds the length of descriptor strings produced for
// non-scalar host values that fall back to string marshalling (spec §4.4).
// Zero means unbounded.
func WithMaxDescriptorLen(n int) Config {
	return func(v *Visitor) { v.maxDescriptorLen = n }
}

// Visitor ties a host machine H and a debugger machine D together and
// implements the operation surface D scripts call to inspect and mutate H.
// It is not safe for concurrent use from multiple goroutines without
// external synchronization beyond what Mu offers; Mu exists so an embedder
// pausing H on a breakpoint can safely block concurrent D-side requests,
// mirroring debugger.Engine's own mu sync.Mutex (lisp/x/debugger/engine.go).
type Visitor struct {
	H *vm.Machine
	D *vm.Machine

	Mu sync.Mutex

	log              *logrus.Entry
	maxDescriptorLen int

	refPool   *vm.RefPool
	watchPool *vm.RefPool
}

// New constructs a Visitor over host machine h and debugger machine d.
func New(h, d *vm.Machine, opts ...Config) *Visitor {
	v := &Visitor{
		H:   h,
		D:   d,
		log: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// anchorTable lazily creates (on first use) and returns the named anchor
// table rooted in H's registry, along with a RefPool bound to it. This
// mirrors ref_value's create-on-demand __debugger_ref table
// (rdebug_visitor.cpp): anchors don't exist until the first value needs
// one, so a host program that never triggers a by-reference marshal pays
// nothing.
func (v *Visitor) anchorTable(key string, pool **vm.RefPool) *vm.RefPool {
	if *pool != nil {
		return *pool
	}
	existing := v.H.Registry.Get(vm.String(key))
	t := existing.AsTable()
	if t == nil {
		t = vm.NewTable()
		v.H.Registry.Set(vm.String(key), vm.TableValue(t))
	}
	*pool = vm.NewRefPool(t)
	return *pool
}

// refAnchor returns the __debugger_ref anchor's pool, creating it if
// necessary.
func (v *Visitor) refAnchor() *vm.RefPool {
	return v.anchorTable(anchorRefKey, &v.refPool)
}

// watchAnchor returns the __debugger_watch anchor's pool, creating it if
// necessary.
func (v *Visitor) watchAnchor() *vm.RefPool {
	return v.anchorTable(anchorWatchKey, &v.watchPool)
}

// Global returns a ready-made ref addressing H's globals table. Like
// _G/_REGISTRY in the original implementation (init_visitor,
// rdebug_visitor.cpp), these two roots are exposed as values, not
// operations D has to invoke.
func (v *Visitor) Global() *ref.Ref { return ref.NewGlobal() }

// Registry returns a ready-made ref addressing H's registry table.
func (v *Visitor) Registry() *ref.Ref { return ref.NewRegistry() }

func (v *Visitor) logger() *logrus.Entry {
	if v.log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return v.log
}

// logOp emits the debug-level line every operation touching host state
// logs, tagged with the operation's name and the depth of the reference it
// was called against (0 when the operation has no ref argument of its
// own, e.g. Load). Mirrors rpc.go's s.log.Debugf request tracing
// (lisp/x/debugger/server/rpc.go) applied to the visitor's own operation
// surface rather than RPC dispatch.
func (v *Visitor) logOp(op string, r *ref.Ref) {
	depth := 0
	if r != nil {
		depth = r.Depth()
	}
	v.logger().WithField("op", op).WithField("ref_depth", depth).Debug("visitor operation")
}
