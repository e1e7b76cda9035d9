package records

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/sharedstore/internal/domain"
)

func registerListRecords(s *server.MCPServer, store Store, syncer Syncer, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("list_records",
			mcp.WithDescription("List every record in the shared store, oldest first, with the current sync state."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			recs := store.FetchAll(ctx, domain.KindRecord)

			var b strings.Builder
			fmt.Fprintf(&b, "%d records (sync: %s)\n", len(recs), syncState(syncer))
			for _, r := range recs {
				fmt.Fprintf(&b, "- %s [%s] created %s\n", r.Name, r.ID, r.Created.Format("2006-01-02 15:04:05"))
			}
			return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
		},
	)
}

func registerCreateRecord(s *server.MCPServer, store Store, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("create_record",
			mcp.WithDescription("Create a record and save it. Without a name the record is called 'Object: <count>'."),
			mcp.WithString("name", mcp.Description("Record name (optional; duplicates are allowed)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			name := optionalString(args, "name", "")
			if name == "" {
				name = store.NextName(ctx)
			}
			rec := store.Insert(name)
			store.Save(ctx)
			logger.Printf("create_record: %s (%s)", rec.Name, rec.ID)
			return mcp.NewToolResultText(fmt.Sprintf("Created %q [%s]", rec.Name, rec.ID)), nil
		},
	)
}

func registerDeleteRecord(s *server.MCPServer, store Store, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("delete_record",
			mcp.WithDescription("Delete a record by id and save."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Record id as shown by list_records")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := requireString(req.GetArguments(), "id")
			if err != nil {
				return nil, err
			}
			var found *domain.Record
			for _, r := range store.FetchAll(ctx, domain.KindRecord) {
				if r.ID == id {
					found = &r
					break
				}
			}
			if found == nil {
				return nil, fmt.Errorf("record %s not found", id)
			}
			store.Delete(id)
			store.Save(ctx)
			logger.Printf("delete_record: %s (%s)", found.Name, id)
			return mcp.NewToolResultText(fmt.Sprintf("Deleted %q [%s]", found.Name, id)), nil
		},
	)
}

func registerSynchronize(s *server.MCPServer, syncer Syncer, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("synchronize",
			mcp.WithDescription("Synchronize the store with the remote container now. Cancels a sync already in progress."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if !syncer.Ready() {
				return mcp.NewToolResultText("Sync disabled: no remote account available"), nil
			}
			if err := syncer.Synchronize(ctx); err != nil {
				return nil, fmt.Errorf("synchronize: %w", err)
			}
			return mcp.NewToolResultText("Sync complete"), nil
		},
	)
}

func registerEraseAll(s *server.MCPServer, syncer Syncer, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("erase_all",
			mcp.WithDescription("Erase every record locally and in the remote container. Irreversible."),
			mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if !optionalBool(req.GetArguments(), "confirm", false) {
				return nil, fmt.Errorf("confirm must be true")
			}
			if !syncer.Ready() {
				return nil, fmt.Errorf("erase needs a remote account; sync is disabled")
			}
			if err := syncer.Erase(ctx); err != nil {
				return nil, fmt.Errorf("erase: %w", err)
			}
			logger.Printf("erase_all: remote and local data erased")
			return mcp.NewToolResultText("Erased all records"), nil
		},
	)
}

func syncState(syncer Syncer) string {
	if syncer == nil {
		return string(domain.PhaseUninitialized)
	}
	return string(syncer.Phase())
}
