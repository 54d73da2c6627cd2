package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/quill/pkg/tool"
)

// Manager owns the configured server connections. Discovery is a one-time
// startup phase; after RegisterTools the manager is read-only until Close.
type Manager struct {
	mu      sync.RWMutex
	configs map[string]ServerConfig
	clients map[string]*Client
}

func NewManager() *Manager {
	return &Manager{
		configs: make(map[string]ServerConfig),
		clients: make(map[string]*Client),
	}
}

// AddServer records a server configuration for the next Connect.
func (m *Manager) AddServer(cfg ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Name] = cfg
}

// Connect launches and initializes every configured server concurrently,
// fetching each tool list. Servers that fail are skipped and reported
// together; the rest stay connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		group   errgroup.Group
		errMu   sync.Mutex
		errs    []string
		connMu  sync.Mutex
		clients = make(map[string]*Client)
	)
	for name, cfg := range m.configs {
		if _, exists := m.clients[name]; exists {
			continue
		}
		group.Go(func() error {
			client, err := Connect(ctx, cfg)
			if err == nil {
				if _, listErr := client.ListTools(ctx); listErr != nil {
					client.Close()
					err = listErr
				}
			}
			if err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				errMu.Unlock()
				return nil
			}
			connMu.Lock()
			clients[name] = client
			connMu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	for name, client := range clients {
		m.clients[name] = client
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("connecting to servers: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RegisterTools wraps every discovered tool and registers it, returning the
// namespaced names.
func (m *Manager) RegisterTools(registry *tool.Registry) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, client := range m.clients {
		timeout := m.configs[name].Timeout
		for _, def := range client.Tools() {
			adapted := NewServerTool(client, def, timeout)
			registry.Register(adapted)
			names = append(names, adapted.Name())
		}
	}
	return names
}

// Client returns the connection for a server name.
func (m *Manager) Client(name string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	return c, ok
}

// Servers lists the configured server names.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	return names
}

// Close disconnects every server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []string
	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	m.clients = make(map[string]*Client)
	if len(errs) > 0 {
		return fmt.Errorf("closing servers: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseServers reads the conventional {"mcpServers": {...}} JSON block.
func ParseServers(data []byte) ([]ServerConfig, error) {
	var raw struct {
		Servers map[string]struct {
			Command string            `json:"command"`
			Args    []string          `json:"args"`
			Env     map[string]string `json:"env"`
		} `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	configs := make([]ServerConfig, 0, len(raw.Servers))
	for name, srv := range raw.Servers {
		configs = append(configs, ServerConfig{
			Name:    name,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
			Timeout: 30 * time.Second,
		})
	}
	return configs, nil
}
