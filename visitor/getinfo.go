package visitor

import (
	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
)

// Info is the debug-info bundle GetInfo assembles, mirroring the
// option-letter table of spec §6.3 (itself modeled on lua_getinfo): each
// letter in the `what` string passed to GetInfo turns on filling in the
// corresponding group of fields below, leaving the rest at their zero
// value.
type Info struct {
	// 'S'
	Source          string
	ShortSource     string
	LineDefined     int
	LastLineDefined int
	What            string // "Lua" | "C" | "main" | "?"

	// 'l'
	CurrentLine int // -1 if unknown

	// 'n'
	Name     string
	NameWhat string

	// 'f'
	Func *ref.Ref

	// 'u'
	NumParams int

	// 't'
	IsTailCall bool

	// 'r'
	FTransfer int
	NTransfer int
}

// maxGetInfoOpts and validGetInfoOpts enforce the option-string rules of
// spec §6.3/§7: at most 7 characters, drawn only from Slnfutr. Either
// violation is a programmer-error, raised rather than silently ignored.
const maxGetInfoOpts = 7

var validGetInfoOpts = map[byte]bool{'S': true, 'l': true, 'n': true, 'f': true, 'u': true, 't': true, 'r': true}

// InfoTarget is getinfo's two-shape target argument (spec §6.3): either a
// call-frame level or a reference to a function value. Build one with
// FrameTarget or FuncTarget.
type InfoTarget struct {
	frame  int
	fnRef  *ref.Ref
	isFunc bool
}

// FrameTarget targets the call frame at the given call-stack level.
func FrameTarget(frame int) InfoTarget { return InfoTarget{frame: frame} }

// FuncTarget targets the function fnRef addresses directly, with no
// enclosing call frame. Option 'f' is invalid against this target (spec
// §6.3: "f is rejected when target is a function reference").
func FuncTarget(fnRef *ref.Ref) InfoTarget { return InfoTarget{fnRef: fnRef, isFunc: true} }

func whatKind(fn *vm.Function, isMain bool) string {
	switch {
	case isMain:
		return "main"
	case fn == nil:
		return "?"
	case fn.IsNative():
		return "C"
	default:
		return "Lua"
	}
}

// shortSource truncates a source name to the display width lua_getinfo's
// short_src uses, so a long chunk name or embedded script body doesn't
// blow out a debugger UI's stack-trace column.
func shortSource(src string) string {
	const maxShortSource = 60
	if len(src) <= maxShortSource {
		return src
	}
	return src[:maxShortSource]
}

// GetInfo assembles debug info about target, filling only the fields the
// letters in what request, and reusing into as the result if supplied
// (spec §6.3: "the result table is reused if supplied"). ok is false, with
// no error, when target names a frame or function that doesn't currently
// exist — an Absence, not a Programmer-error. err is non-nil for an
// invalid option string, an unknown option letter, 'f' combined with a
// function-reference target, or a target that resolves but has the wrong
// shape (spec §6.3, §7).
func (v *Visitor) GetInfo(target InfoTarget, what string, into *Info) (*Info, bool, error) {
	if target.isFunc {
		v.logOp("getinfo", target.fnRef)
	} else {
		v.logOp("getinfo", ref.NewFrameFunc(target.frame))
	}
	if len(what) > maxGetInfoOpts {
		return nil, false, programmerError("getinfo", "option string %q longer than %d characters", what, maxGetInfoOpts)
	}
	hasF := false
	for i := 0; i < len(what); i++ {
		c := what[i]
		if !validGetInfoOpts[c] {
			return nil, false, programmerError("getinfo", "unknown getinfo option %q", string(c))
		}
		if c == 'f' {
			hasF = true
		}
	}
	if hasF && target.isFunc {
		return nil, false, programmerError("getinfo", "option 'f' is invalid for a function-reference target")
	}

	var fn *vm.Function
	var frame *vm.Frame
	var frameRef *ref.Ref
	isMain := false

	if target.isFunc {
		hv, found, err := resolve(v.H, target.fnRef)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		fn = hv.AsFunction()
		if fn == nil {
			return nil, false, programmerError("getinfo", "value is a %s, not a function", hv.Type())
		}
	} else {
		frame = v.H.FrameAt(target.frame)
		if frame == nil {
			return nil, false, nil
		}
		fn = frame.Func
		isMain = target.frame == v.H.Depth()-1
		frameRef = ref.NewFrameFunc(target.frame)
	}

	info := into
	if info == nil {
		info = &Info{}
	} else {
		*info = Info{}
	}

	for i := 0; i < len(what); i++ {
		switch what[i] {
		case 'S':
			if fn != nil && fn.Source != nil {
				info.Source = fn.Source.Source
				info.ShortSource = shortSource(fn.Source.Source)
			}
			if fn != nil {
				info.LineDefined = fn.LineDefined
				info.LastLineDefined = fn.LastLineDefined
			}
			info.What = whatKind(fn, isMain)
		case 'l':
			info.CurrentLine = -1
			if frame != nil {
				info.CurrentLine = frame.Line
			}
		case 'n':
			if frame != nil {
				info.Name = frame.Name
				info.NameWhat = frame.NameWhat
			}
		case 'f':
			info.Func = frameRef
		case 'u':
			if fn != nil {
				info.NumParams = fn.NumParams
			}
		case 't':
			if frame != nil {
				info.IsTailCall = frame.IsTailCall
			}
		case 'r':
			if frame != nil {
				info.FTransfer = frame.FTransfer
				info.NTransfer = frame.NTransfer
			}
		}
	}
	return info, true, nil
}
