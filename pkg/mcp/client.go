// Package mcp connects to protocol servers over a JSON-RPC stdio channel and
// exposes their tools through the registry with origin discovered-remote.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const protocolVersion = "2024-11-05"

// message is one JSON-RPC frame, newline-delimited on the pipe.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ServerInfo describes the connected server.
type ServerInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	ProtocolVer string `json:"protocolVersion"`
}

// ToolDefinition is one tool announced by a server via tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// CallResult is the payload of a tools/call response.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ServerConfig describes how to launch one protocol server.
type ServerConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args"`
	Env     map[string]string `yaml:"env" json:"env"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
}

// Client speaks JSON-RPC to one server subprocess. Requests carry increasing
// ids; responses are matched to waiters by id on a reader goroutine.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu      sync.Mutex
	pending map[int64]chan *message
	nextID  int64
	closed  bool

	server string
	info   *ServerInfo
	tools  []ToolDefinition
}

// Connect launches the server process and performs the initialize handshake.
func Connect(ctx context.Context, cfg ServerConfig) (*Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("server %q: command is required", cfg.Name)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting server %q: %w", cfg.Name, err)
	}

	c := &Client{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]chan *message),
		server:  cfg.Name,
	}
	go c.readLoop()

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.ID == nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &msg
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	var encoded json.RawMessage
	if params != nil {
		var err error
		encoded, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding params: %w", err)
		}
	}
	frame, err := json.Marshal(message{JSONRPC: "2.0", ID: &id, Method: method, Params: encoded})
	if err != nil {
		return nil, err
	}

	respCh := make(chan *message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("server %q: connection closed", c.server)
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	if _, err := c.stdin.Write(append(frame, '\n')); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("writing %s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if resp == nil {
			return nil, fmt.Errorf("server %q: connection closed", c.server)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: server error %d: %s", method, resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify sends a request without an id; the server must not answer it.
func (c *Client) notify(method string) {
	frame, err := json.Marshal(message{JSONRPC: "2.0", Method: method})
	if err != nil {
		return
	}
	c.stdin.Write(append(frame, '\n'))
}

func (c *Client) initialize(ctx context.Context) error {
	raw, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"clientInfo":      map[string]any{"name": "quill", "version": "1.0.0"},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result struct {
		ServerInfo  ServerInfo `json:"serverInfo"`
		ProtocolVer string     `json:"protocolVersion"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parsing initialize result: %w", err)
	}
	result.ServerInfo.ProtocolVer = result.ProtocolVer
	c.info = &result.ServerInfo

	c.notify("notifications/initialized")
	return nil
}

// ListTools fetches and caches the server's tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing tools list: %w", err)
	}
	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	return result.Tools, nil
}

// CallTool invokes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing tool result: %w", err)
	}
	return &result, nil
}

// Info returns the handshake server info.
func (c *Client) Info() *ServerInfo { return c.info }

// Server returns the configured server name.
func (c *Client) Server() string { return c.server }

// Tools returns the cached tool definitions.
func (c *Client) Tools() []ToolDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolDefinition(nil), c.tools...)
}

// Close shuts down the subprocess, killing it if it lingers.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = nil
	c.mu.Unlock()

	c.stdin.Close()
	c.stdout.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.cmd.Process.Kill()
	}
	return nil
}
