// Package mcp serves governor state to MCP clients over stdio using
// newline-delimited JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/pario-ai/governor/pkg/models"
)

// Ledger is the read side of the usage ledger.
type Ledger interface {
	EffectiveLimits(ctx context.Context, tenantID string) (models.EffectiveLimits, error)
	Usage(ctx context.Context, tenantID, month string) (models.MonthlyUsage, error)
	ListUsage(ctx context.Context, month string) ([]models.MonthlyUsage, error)
}

// CacheInspector reports response cache statistics and can drop entries.
type CacheInspector interface {
	Info() models.CacheInfo
	Clear()
}

// SavingsEstimator projects routing savings.
type SavingsEstimator interface {
	EstimateSavings(monthlyCalls int64) models.SavingsEstimate
}

// NudgeSource evaluates nudges for a member.
type NudgeSource interface {
	ActiveNudges(ctx context.Context, m models.Member) ([]models.Nudge, error)
}

// EventSearcher queries the event log.
type EventSearcher interface {
	Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error)
}

// Server is a minimal MCP server over stdio.
type Server struct {
	ledger  Ledger
	cache   CacheInspector
	savings SavingsEstimator
	nudges  NudgeSource
	events  EventSearcher
	version string
	logger  zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCache exposes response cache statistics.
func WithCache(c CacheInspector) Option { return func(s *Server) { s.cache = c } }

// WithSavings exposes the routing savings estimate.
func WithSavings(e SavingsEstimator) Option { return func(s *Server) { s.savings = e } }

// WithNudges exposes nudge evaluation.
func WithNudges(n NudgeSource) Option { return func(s *Server) { s.nudges = n } }

// WithEvents exposes the event log.
func WithEvents(e EventSearcher) Option { return func(s *Server) { s.events = e } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a Server.
func New(ledger Ledger, version string, opts ...Option) *Server {
	s := &Server{
		ledger:  ledger,
		version: version,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "mcp").Logger()
	return s
}

// Run reads requests from r line by line and writes responses to w.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, rpcError(nil, CodeParseError, "parse error"))
			continue
		}
		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != jsonrpcVersion {
		if req.ID == nil {
			return nil
		}
		return rpcError(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "governor", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: toolDefinitions()})
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		return rpcError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) callTool(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().Str("panic", fmt.Sprint(p)).Msg("tool call panicked")
			resp = rpcError(req.ID, CodeInternalError, "internal error")
		}
	}()

	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req.ID, CodeInvalidParams, "invalid params")
	}
	t, ok := toolByName(params.Name)
	if !ok {
		return result(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	s.logger.Debug().Str("tool", params.Name).Msg("tool call")
	return result(req.ID, t.handle(ctx, s, params.Arguments))
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error().Err(err).Msg("write response")
	}
}
