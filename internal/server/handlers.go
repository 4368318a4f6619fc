package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/dispatch"
	jsonwriter "github.com/dgellow/mcp-local/internal/json"
)

const (
	defaultHistoryLimit = 20
	maxBodyBytes        = 1 << 20
)

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	ID       string `json:"id,omitempty"`
	Response string `json:"response"`
	Server   string `json:"server,omitempty"`
	Tool     string `json:"tool,omitempty"`
}

type callResponse struct {
	Output string `json:"output"`
	Server string `json:"server"`
	Tool   string `json:"tool"`
}

type serverInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Keywords      []string `json:"keywords"`
	Transport     string   `json:"transport"`
	FormatHexKeys bool     `json:"formatHexKeys"`
	AddressKeys   []string `json:"addressKeys,omitempty"`
	Tools         []string `json:"tools"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.opts.Version != "" {
		body["version"] = s.opts.Version
	}
	_ = jsonwriter.Write(w, body)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		jsonwriter.WriteBadRequest(w, "query is required")
		return
	}

	turn, err := s.asker.Ask(r.Context(), req.Query)
	if err != nil {
		status, code := errorStatus(err)
		resp := jsonwriter.ErrorResponse{Error: code, Message: err.Error()}
		if turn != nil {
			resp.Response = turn.Response
		}
		jsonwriter.WriteErrorResponse(w, status, resp)
		return
	}

	resp := queryResponse{ID: turn.ID, Response: turn.Response, Server: turn.Server}
	if turn.Call != nil {
		resp.Tool = turn.Call.Name
	}
	_ = jsonwriter.Write(w, resp)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonwriter.WriteBadRequest(w, "failed to read request body")
		return
	}

	call, err := dispatch.Parse(string(body))
	if err != nil {
		status, code := errorStatus(err)
		jsonwriter.WriteError(w, status, code, err.Error())
		return
	}

	result, err := s.caller.Call(r.Context(), call)
	if err != nil {
		status, code := errorStatus(err)
		jsonwriter.WriteError(w, status, code, err.Error())
		return
	}
	_ = jsonwriter.Write(w, callResponse{Output: result.Output, Server: result.Server, Tool: call.Name})
}

func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request) {
	reg := s.caller.Registry()
	servers := make([]serverInfo, 0, reg.Len())
	for _, spec := range reg.ListAll() {
		servers = append(servers, describe(spec, reg.Tools(spec.Name)))
	}
	_ = jsonwriter.Write(w, map[string]any{"servers": servers})
}

// describe omits command, args and env: they may carry secrets
func describe(spec *config.ServerSpec, tools []config.ToolDescriptor) serverInfo {
	info := serverInfo{
		Name:          spec.Name,
		Description:   spec.Description,
		Keywords:      spec.Keywords,
		Transport:     string(spec.Transport()),
		FormatHexKeys: spec.FormatHexKeys,
		AddressKeys:   spec.AddressKeys,
		Tools:         make([]string, 0, len(tools)),
	}
	if info.Keywords == nil {
		info.Keywords = []string{}
	}
	for _, tool := range tools {
		info.Tools = append(info.Tools, tool.Name)
	}
	return info
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonwriter.WriteNotFound(w, "history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonwriter.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "failed to read history")
		return
	}
	_ = jsonwriter.Write(w, map[string]any{"turns": entries})
}

// errorStatus maps an error class to its HTTP status and error code
func errorStatus(err error) (int, string) {
	var (
		parseErr   *dispatch.ParseError
		unknownErr *dispatch.UnknownToolError
		invErr     *dispatch.InvocationError
	)
	switch {
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, "parse_error"
	case errors.As(err, &unknownErr):
		return http.StatusNotFound, "unknown_tool"
	case errors.As(err, &invErr):
		if invErr.Timeout {
			return http.StatusGatewayTimeout, "timeout"
		}
		return http.StatusBadGateway, "invocation_error"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}
