package modbus

import "sync"

// wildcardFC and wildcardServerID are the registry keys a Handler is
// registered under to match any function-code for a given server-id, or
// any server-id for a given function-code, respectively.
const (
	wildcardFC       byte = 0x00
	wildcardServerID byte = 0x00
)

// Handler answers one Modbus request. It returns either the response
// payload to place after the function code, or a non-Success ErrorCode to
// have the dispatcher frame a standard exception reply instead.
type Handler func(req *ParsedFrame) ([]byte, ErrorCode)

type handlerKey struct {
	serverID byte
	funcCode byte
}

// Server is the function-code handler registry and dispatcher described
// in spec.md §4.6: handlers are looked up by (server-id, function-code)
// with wildcard fallbacks, and a single coarse lock serializes
// registration against dispatch.
type Server struct {
	mu       sync.Mutex
	handlers map[handlerKey]Handler
	logger   *SimpleLogger
}

// NewServer returns an empty dispatcher.
func NewServer() *Server {
	return &Server{handlers: make(map[handlerKey]Handler)}
}

// SetLogger attaches a logger Dispatch writes lookup/exception activity
// to. Passing nil silences it again.
func (s *Server) SetLogger(l *SimpleLogger) {
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// Register installs handler for the given server-id/function-code pair.
// Pass 0 for funcCode to match any function code for that server-id, or 0
// for serverID to match any server-id for that function code; both 0
// matches everything not otherwise claimed.
func (s *Server) Register(serverID, funcCode byte, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[handlerKey{serverID, funcCode}] = handler
}

// Deregister removes a previously registered handler, if any.
func (s *Server) Deregister(serverID, funcCode byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, handlerKey{serverID, funcCode})
}

// lookup implements spec.md's exact -> FC-wildcard -> server-id-wildcard
// -> both-wildcard resolution order; first match wins.
func (s *Server) lookup(serverID, funcCode byte) (Handler, bool) {
	if h, ok := s.handlers[handlerKey{serverID, funcCode}]; ok {
		return h, true
	}
	if h, ok := s.handlers[handlerKey{serverID, wildcardFC}]; ok {
		return h, true
	}
	if h, ok := s.handlers[handlerKey{wildcardServerID, funcCode}]; ok {
		return h, true
	}
	if h, ok := s.handlers[handlerKey{wildcardServerID, wildcardFC}]; ok {
		return h, true
	}
	return nil, false
}

// Dispatch parses an incoming request frame, resolves and invokes its
// handler, and frames the reply. A request addressed to server-id 0
// (broadcast) still invokes the handler but Dispatch returns a nil frame,
// since broadcast requests get no reply on the wire. Handler lookup
// misses respond with ILLEGAL_FUNCTION.
func (s *Server) Dispatch(reqFrame []byte) ([]byte, error) {
	req, err := ParseFramePDU(reqFrame)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	handler, ok := s.lookup(req.ServerID, req.FuncCode)
	logger := s.logger
	s.mu.Unlock()

	broadcast := req.ServerID == 0
	logAt(logger, LevelDebug, "server: dispatching server-id=0x%02X fc=0x%02X", req.ServerID, req.FuncCode)

	if !ok {
		logAt(logger, LevelWarning, "server: no handler registered for server-id=0x%02X fc=0x%02X", req.ServerID, req.FuncCode)
		if broadcast {
			return nil, nil
		}
		return framedException(req.ServerID, req.FuncCode, IllegalFunction), nil
	}

	payload, errCode := handler(req)
	if broadcast {
		return nil, nil
	}
	if errCode != Success {
		logAt(logger, LevelWarning, "server: handler for server-id=0x%02X fc=0x%02X returned %s", req.ServerID, req.FuncCode, errCode)
		return framedException(req.ServerID, req.FuncCode, errCode), nil
	}
	reply := NewMessage(2 + len(payload)).AppendU8(req.ServerID).AppendU8(req.FuncCode).AppendBytes(payload)
	return reply.Bytes(), nil
}

// framedException builds the standard [server-id, fc|0x80, exception-byte]
// exception reply.
func framedException(serverID, funcCode byte, errCode ErrorCode) []byte {
	code, ok := exceptionByte[errCode]
	if !ok {
		code = exceptionByte[IllegalFunction]
	}
	return NewMessage(3).AppendU8(serverID).AppendU8(funcCode | exceptionBit).AppendU8(code).Bytes()
}
