package toolrouter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/reverie-labs/reverie/pkg/provider"
)

// MCP JSON-RPC messages.
type mcpRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      any    `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
	ID      any             `json:"id"`
}

type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// MCPAdapter implements Adapter over a stdio Model Context Protocol
// server process.
type MCPAdapter struct {
	serverID string
	command  string
	args     []string

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	id      int
}

// NewMCPAdapter creates an adapter for an MCP server. Call Start before
// use.
func NewMCPAdapter(serverID, command string, args []string) *MCPAdapter {
	return &MCPAdapter{
		serverID: serverID,
		command:  command,
		args:     args,
	}
}

// Start launches the server process and performs the MCP handshake.
func (a *MCPAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.process != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, a.command, a.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start MCP server %s: %w", a.serverID, err)
	}

	a.process = cmd
	a.stdin = stdin
	a.stdout = bufio.NewScanner(stdout)
	a.stdout.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	_, err = a.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "reverie", "version": "0.1.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		a.stopLocked()
		return fmt.Errorf("MCP initialize failed for %s: %w", a.serverID, err)
	}

	return nil
}

// Stop terminates the server process. Safe to call multiple times.
func (a *MCPAdapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *MCPAdapter) stopLocked() {
	if a.process == nil {
		return
	}
	a.stdin.Close()
	_ = a.process.Process.Kill()
	_ = a.process.Wait()
	a.process = nil
}

// ListTools implements Adapter.
func (a *MCPAdapter) ListTools(ctx context.Context) ([]provider.ToolSpec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	raw, err := a.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools/list response: %w", err)
	}

	specs := make([]provider.ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		specs = append(specs, provider.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return specs, nil
}

// CallTool implements Adapter.
func (a *MCPAdapter) CallTool(ctx context.Context, name string, args map[string]any) (*Output, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	raw, err := a.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools/call response: %w", err)
	}

	content := ""
	for _, c := range result.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}
	return &Output{Content: content, IsError: result.IsError}, nil
}

// call sends one request and reads responses until the matching id
// arrives. Callers must hold a.mu.
func (a *MCPAdapter) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if a.process == nil {
		return nil, fmt.Errorf("MCP server %s is not running", a.serverID)
	}

	a.id++
	id := a.id

	data, err := json.Marshal(mcpRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, err
	}

	if _, err := a.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write to MCP server: %w", err)
	}

	type scanResult struct {
		raw json.RawMessage
		err error
	}
	done := make(chan scanResult, 1)

	go func() {
		for a.stdout.Scan() {
			line := a.stdout.Bytes()
			var resp mcpResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				continue // notification or garbage, skip
			}
			respID, ok := resp.ID.(float64)
			if !ok || int(respID) != id {
				continue
			}
			if resp.Error != nil {
				done <- scanResult{err: fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)}
				return
			}
			done <- scanResult{raw: resp.Result}
			return
		}
		done <- scanResult{err: fmt.Errorf("MCP server %s closed its stdout", a.serverID)}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.raw, r.err
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("MCP call %s timed out", method)
	}
}
