package telemetry

// Attribute names used on spans and metrics. Tool and session names follow the
// MCP observability conventions; patch and snapshot names are local to this server.
const (
	AttrMCPToolName    = "mcp.tool.name"
	AttrMCPToolSuccess = "mcp.tool.result.success"
	AttrMCPToolError   = "mcp.tool.result.error"

	AttrMCPSessionID = "mcp.session.id"
	AttrMCPTransport = "mcp.transport" // stdio/http

	// Patch attributes, set on the tool span once the engine has produced a report
	AttrPatchMethod     = "patch.method"      // anchor/fuzzy/unified_diff
	AttrPatchSuccess    = "patch.success"     // bool
	AttrPatchSyntaxOK   = "patch.syntax_ok"   // bool
	AttrPatchAccuracy   = "patch.accuracy"    // percentage, 0 for exact methods
	AttrPatchByteDelta  = "patch.byte_delta"  // int
	AttrPatchFileName   = "patch.file_name"   // resolved file name
	AttrPatchDryRun     = "patch.dry_run"     // bool
	AttrPatchCommitted  = "patch.committed"   // bool
	AttrSnapshotID      = "snapshot.id"       // snapshot written before a commit
	AttrScriptProjectID = "script.project_id" // Apps Script project being edited

	AttrCacheHit       = "cache.hit"
	AttrCacheOperation = "cache.operation" // get/set/delete
)

// Span names
const (
	SpanNameSession     = "mcp.session"
	SpanNameToolExecute = "mcp.tool.execute"
)
