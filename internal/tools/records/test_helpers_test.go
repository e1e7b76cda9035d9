package records

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/sharedstore/internal/app"
	"github.com/jaakkos/sharedstore/internal/domain"
	"github.com/jaakkos/sharedstore/internal/repository"
)

var discard = log.New(io.Discard, "", 0)

// fakeSyncer records calls made by the tools.
type fakeSyncer struct {
	mu     sync.Mutex
	ready  bool
	err    error
	syncs  int
	erases int
}

func (f *fakeSyncer) Synchronize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return f.err
}

func (f *fakeSyncer) Erase(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.erases++
	return f.err
}

func (f *fakeSyncer) Phase() domain.SyncPhase {
	if f.ready {
		return domain.PhaseIdle
	}
	return domain.PhaseUninitialized
}

func (f *fakeSyncer) Ready() bool { return f.ready }

// newTestStore returns an accessor over a fresh SQLite store.
func newTestStore(t *testing.T) *app.StoreAccessor {
	t.Helper()
	engine, err := repository.NewRecordEngine(filepath.Join(t.TempDir(), "store.sqlite"))
	if err != nil {
		t.Fatalf("NewRecordEngine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return app.NewStoreAccessor(engine, "", discard, nil)
}

// testServer creates a MCPServer with all tools registered for testing.
func testServer(store Store, syncer Syncer, opts ...RegisterOption) *server.MCPServer {
	s := server.NewMCPServer("test", "1.0.0")
	Register(s, store, syncer, discard, opts...)
	return s
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
// Returns the parsed CallToolResult or an error.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := s.HandleMessage(context.Background(), reqJSON)

	respBytes, marshalErr := json.Marshal(respJSON)
	if marshalErr != nil {
		t.Fatalf("marshal response: %v", marshalErr)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	return &result, nil
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}
