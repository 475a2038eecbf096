package mcp

import (
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/zot/repertoire/internal/protocol"
)

type toolDef struct {
	tool mcpgo.Tool
	msg  protocol.MessageType
}

func tableProp() mcpgo.ToolOption {
	return mcpgo.WithString("table",
		mcpgo.Required(),
		mcpgo.Enum("form", "repertoire"),
		mcpgo.Description("form for glyphs, repertoire for characters"),
	)
}

func codeProp(name, desc string) mcpgo.ToolOption {
	return mcpgo.WithString(name,
		mcpgo.Required(),
		mcpgo.Description(desc+": U+XXXX, 0xXXXX, decimal, or the character itself"),
	)
}

// tools lists the repertoire tools and the message each one sends.
func tools() []toolDef {
	return []toolDef{
		{mcpgo.NewTool("get_entry",
			mcpgo.WithDescription("Read one glyph or character"),
			tableProp(),
			codeProp("code", "Entry code"),
		), protocol.MsgGet},

		{mcpgo.NewTool("list_entries",
			mcpgo.WithDescription("List entries ordered by code, with the table's total"),
			tableProp(),
			mcpgo.WithNumber("offset", mcpgo.Description("Entries to skip")),
			mcpgo.WithNumber("limit", mcpgo.Description("Maximum entries to return; omit for all")),
		), protocol.MsgList},

		{mcpgo.NewTool("create_entry",
			mcpgo.WithDescription("Create an entry. A missing or zero unicode allocates a private-use code"),
			tableProp(),
			mcpgo.WithObject("entry", mcpgo.Required(), mcpgo.Description("The glyph or character, as returned by get_entry")),
		), protocol.MsgCreate},

		{mcpgo.NewTool("update_entry",
			mcpgo.WithDescription("Replace every field of an entry except its code"),
			tableProp(),
			codeProp("code", "Entry code"),
			mcpgo.WithObject("entry", mcpgo.Required(), mcpgo.Description("The replacement glyph or character")),
		), protocol.MsgUpdate},

		{mcpgo.NewTool("delete_entry",
			mcpgo.WithDescription("Delete an entry no other entry references"),
			tableProp(),
			codeProp("code", "Entry code"),
		), protocol.MsgDelete},

		{mcpgo.NewTool("rename_entry",
			mcpgo.WithDescription("Change an entry's code and rewrite every reference to it"),
			tableProp(),
			codeProp("code", "Current code"),
			codeProp("to", "New code"),
		), protocol.MsgRename},

		{mcpgo.NewTool("referenced_by",
			mcpgo.WithDescription("List the entries, in either table, that reference a code"),
			tableProp(),
			codeProp("code", "Referenced code"),
		), protocol.MsgReferences},
	}
}
