package mcp

import "github.com/mark3labs/mcp-go/mcp"

var lookupToolDef = mcp.NewTool("names_lookup",
	mcp.WithDescription("Look up the character name stored for a token. Tokens are normalized before lookup."),
	mcp.WithString("token", mcp.Required(), mcp.Description("Token as typed in chat")),
)

var learnToolDef = mcp.NewTool("names_learn",
	mcp.WithDescription("Record a manual token to name mapping and persist it."),
	mcp.WithString("token", mcp.Required(), mcp.Description("Token as typed in chat")),
	mcp.WithString("name", mcp.Required(), mcp.Description("Character name to reply with")),
	mcp.WithNumber("confidence", mcp.Description("Confidence in [0,1], default 1.0")),
)

var forgetToolDef = mcp.NewTool("names_forget",
	mcp.WithDescription("Remove a learned mapping. Static mappings cannot be removed."),
	mcp.WithString("token", mcp.Required(), mcp.Description("Token to forget")),
)

var listToolDef = mcp.NewTool("names_list",
	mcp.WithDescription("List mappings, static first then by token."),
	mcp.WithString("source", mcp.Description("Filter by source: static, manual, import or an oracle name")),
	mcp.WithString("query", mcp.Description("Substring match on token or name")),
	mcp.WithNumber("limit", mcp.Description("Page size, default 20, max 100")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var statsToolDef = mcp.NewTool("names_stats",
	mcp.WithDescription("Count mappings per source."),
)

var exportToolDef = mcp.NewTool("names_export",
	mcp.WithDescription("Export every mapping to a JSON document in ~/.namecall/exports or an allowed path."),
	mcp.WithString("path", mcp.Description("Destination .json file; defaults to a timestamped file")),
	mcp.WithString("label", mcp.Description("File name prefix for the default path")),
)

var importToolDef = mcp.NewTool("names_import",
	mcp.WithDescription("Import mappings from an export or mapping document."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Source .json file")),
	mcp.WithString("mode", mcp.Description("merge (default) or replace"), mcp.Enum("merge", "replace")),
)

var extractToolDef = mcp.NewTool("text_extract",
	mcp.WithDescription("Preview how a chat message is read: delimited content, tokens, scores and known names."),
	mcp.WithString("text", mcp.Required(), mcp.Description("Raw message text")),
)

var classifyToolDef = mcp.NewTool("text_classify",
	mcp.WithDescription("Score a single token as a plausible character name."),
	mcp.WithString("token", mcp.Required(), mcp.Description("Token to score")),
)
