// Package dap exposes the visitor over the Debug Adapter Protocol,
// grounded on lisp/x/debugger/dapserver: DAP's own VariablesReference is
// exactly the same idea as a ref.Ref, an opaque integer handle a client
// hands back later to walk further into a value it doesn't own. Package
// dap is the glue that maps one onto the other.
package dap

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opaqueref/visitor/ref"
	"github.com/opaqueref/visitor/vm"
	"github.com/opaqueref/visitor/visitor"
)

// Session is one connected DAP client, tracking the variablesReference
// handles it has been given so a later "variables" request for reference N
// can be resolved back to the ref.Ref it stands for. This mirrors
// handler.frameEnvs (lisp/x/debugger/dapserver/handler.go) but generalized
// from "frame index -> LEnv" to "int handle -> Ref".
type Session struct {
	ID uuid.UUID

	conn   io.ReadWriteCloser
	reader *bufio.Reader
	v      *visitor.Visitor
	log    *logrus.Logger

	mu       sync.Mutex
	handles  map[int]*ref.Ref
	nextID   int
	seq      int
}

func newSession(conn io.ReadWriteCloser, v *visitor.Visitor, log *logrus.Logger) *Session {
	return &Session{
		ID:      uuid.New(),
		conn:    conn,
		reader:  bufio.NewReader(conn),
		v:       v,
		log:     log,
		handles: make(map[int]*ref.Ref),
		nextID:  1,
	}
}

// allocHandle assigns a fresh variablesReference to r.
func (s *Session) allocHandle(r *ref.Ref) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handles[id] = r
	return id
}

// resolveHandle looks up a previously allocated variablesReference.
func (s *Session) resolveHandle(id int) (*ref.Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.handles[id]
	return r, ok
}

// Run drains DAP protocol messages from the session's connection until it
// closes or a fatal transport error occurs.
func (s *Session) Run() error {
	for {
		msg, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("dap session %s: %w", s.ID, err)
		}
		if err := s.handle(msg); err != nil {
			s.log.WithError(err).WithField("session", s.ID).Warn("dap: error handling message")
		}
	}
}

func (s *Session) send(msg dap.Message) error {
	return dap.WriteProtocolMessage(s.conn, msg)
}

func (s *Session) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Session) handle(msg dap.Message) error {
	switch req := msg.(type) {
	case *dap.InitializeRequest:
		return s.onInitialize(req)
	case *dap.ScopesRequest:
		return s.onScopes(req)
	case *dap.VariablesRequest:
		return s.onVariables(req)
	case *dap.SetVariableRequest:
		return s.onSetVariable(req)
	case *dap.EvaluateRequest:
		return s.onEvaluate(req)
	case *dap.DisconnectRequest:
		return s.onDisconnect(req)
	default:
		s.log.WithField("type", fmt.Sprintf("%T", msg)).Debug("dap: unhandled message type")
		return nil
	}
}

func (s *Session) onInitialize(req *dap.InitializeRequest) error {
	resp := &dap.InitializeResponse{}
	resp.Response = newResponse(req.Seq, s.nextSeq(), req.Command, true)
	resp.Body.SupportsEvaluateForHovers = true
	resp.Body.SupportsSetVariable = true
	if err := s.send(resp); err != nil {
		return err
	}
	return s.send(&dap.InitializedEvent{Event: newEvent(s.nextSeq(), "initialized")})
}

// scopeGlobals/scopeRegistry are variablesReference values reserved for
// the two ready-made roots (spec §4.6's _G/_REGISTRY-equivalent), keeping
// them stable across requests instead of re-minting a handle every time,
// the way handler.go's scopeLocalBase/scopePackageBase constants reserve a
// deterministic range for frame-derived scopes.
const (
	scopeGlobals  = 1
	scopeRegistry = 2
)

func (s *Session) onScopes(req *dap.ScopesRequest) error {
	s.mu.Lock()
	s.handles[scopeGlobals] = s.v.Global()
	s.handles[scopeRegistry] = s.v.Registry()
	if s.nextID <= scopeRegistry {
		s.nextID = scopeRegistry + 1
	}
	s.mu.Unlock()

	resp := &dap.ScopesResponse{}
	resp.Response = newResponse(req.Seq, s.nextSeq(), req.Command, true)
	resp.Body.Scopes = []dap.Scope{
		{Name: "Globals", VariablesReference: scopeGlobals, Expensive: false},
		{Name: "Registry", VariablesReference: scopeRegistry, Expensive: true},
	}
	return s.send(resp)
}

func (s *Session) onVariables(req *dap.VariablesRequest) error {
	r, ok := s.resolveHandle(req.Arguments.VariablesReference)
	resp := &dap.VariablesResponse{}
	resp.Response = newResponse(req.Seq, s.nextSeq(), req.Command, true)
	if !ok {
		return s.send(resp)
	}
	vars, err := s.expand(r)
	if err != nil {
		resp.Success = false
		resp.Message = err.Error()
		return s.send(resp)
	}
	resp.Body.Variables = vars
	return s.send(resp)
}

// expand lists r's children as DAP variables: table entries via the raw
// bucket walker (component F) if r resolves to a table, or, for any other
// value, a single variable named "value" holding it. Non-scalar entries are
// marshalled by reference, so each gets its own variablesReference.
func (s *Session) expand(r *ref.Ref) ([]dap.Variable, error) {
	arraySize, hashSize, hasZero, err := s.v.TableSize(r)
	if err != nil {
		// Not a table: report it as a single leaf variable named "value".
		res, ok, verr := s.v.Value(r, false)
		if verr != nil || !ok {
			return nil, verr
		}
		return []dap.Variable{s.toVariable("value", res)}, nil
	}

	var out []dap.Variable
	if hasZero {
		res, _, _ := s.v.IndexValue(r, vm.Int(0), true)
		out = append(out, s.toVariable("[0]", res))
	}
	for i := 1; i <= arraySize; i++ {
		res, ok, err := s.v.IndexValue(r, vm.Int(int64(i)), true)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, s.toVariable(fmt.Sprintf("[%d]", i), res))
	}
	for i := 0; i < hashSize; i++ {
		keyRes, _, keyOK, valOK, err := s.v.TableHashValue(r, i, false)
		if err != nil || !keyOK || !valOK {
			continue
		}
		valRes, _, err := s.v.Value(r.IndexVal(i), true)
		if err != nil {
			continue
		}
		out = append(out, s.toVariable(displayLabel(keyRes), valRes))
	}
	return out, nil
}

func displayLabel(res visitor.MarshalResult) string {
	if res.Scalar {
		return fmt.Sprintf("%v", scalarGo(res.Value))
	}
	return res.Descriptor
}

func scalarGo(v vm.Value) interface{} {
	switch v.Type() {
	case vm.TypeString:
		return v.AsString()
	case vm.TypeInteger:
		return v.AsInt()
	case vm.TypeFloat:
		return v.AsFloat()
	case vm.TypeBoolean:
		return v.AsBool()
	default:
		return "nil"
	}
}

func (s *Session) toVariable(name string, res visitor.MarshalResult) dap.Variable {
	v := dap.Variable{Name: name}
	switch {
	case res.Scalar:
		v.Value = fmt.Sprintf("%v", scalarGo(res.Value))
		v.Type = res.Value.Type().String()
	case res.Ref != nil:
		v.Value = res.Ref.String()
		v.VariablesReference = s.allocHandle(res.Ref)
	default:
		v.Value = res.Descriptor
	}
	return v
}

func (s *Session) onSetVariable(req *dap.SetVariableRequest) error {
	r, ok := s.resolveHandle(req.Arguments.VariablesReference)
	resp := &dap.SetVariableResponse{}
	resp.Response = newResponse(req.Seq, s.nextSeq(), req.Command, true)
	if !ok {
		resp.Success = false
		return s.send(resp)
	}
	target, found, err := s.v.Field(r, req.Arguments.Name)
	if err != nil || !found {
		resp.Success = false
		return s.send(resp)
	}
	success, err := s.v.Assign(target, vm.String(req.Arguments.Value), nil)
	if err != nil || !success {
		resp.Success = false
		if err != nil {
			resp.Message = err.Error()
		}
		return s.send(resp)
	}
	resp.Body.Value = req.Arguments.Value
	return s.send(resp)
}

func (s *Session) onEvaluate(req *dap.EvaluateRequest) error {
	resp := &dap.EvaluateResponse{}
	resp.Response = newResponse(req.Seq, s.nextSeq(), req.Command, true)
	res, err := s.v.EvalSource(req.Arguments.Expression)
	if err != nil {
		resp.Success = false
		resp.Message = err.Error()
		return s.send(resp)
	}
	resp.Body.Result = displayLabel(res)
	if res.Ref != nil {
		resp.Body.VariablesReference = s.allocHandle(res.Ref)
	}
	return s.send(resp)
}

func (s *Session) onDisconnect(req *dap.DisconnectRequest) error {
	resp := &dap.DisconnectResponse{}
	resp.Response = newResponse(req.Seq, s.nextSeq(), req.Command, true)
	if err := s.send(resp); err != nil {
		return err
	}
	if c, ok := s.conn.(net.Conn); ok {
		return c.Close()
	}
	return nil
}

func newResponse(requestSeq, seq int, command string, success bool) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "response"},
		RequestSeq:      requestSeq,
		Success:         success,
		Command:         command,
	}
}

func newEvent(seq int, event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "event"},
		Event:           event,
	}
}
