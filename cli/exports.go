// This file re-exports internal packages for projects embedding repertoire.

package cli

import (
	"github.com/zot/repertoire/internal/alloc"
	"github.com/zot/repertoire/internal/config"
	"github.com/zot/repertoire/internal/dump"
	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/mcp"
	"github.com/zot/repertoire/internal/protocol"
	"github.com/zot/repertoire/internal/repository"
	"github.com/zot/repertoire/internal/server"
	"github.com/zot/repertoire/internal/storage"
)

// Re-export config types for public API
type (
	Config        = config.Config
	ServerConfig  = config.ServerConfig
	StorageConfig = config.StorageConfig
	LoggingConfig = config.LoggingConfig
	Duration      = config.Duration
)

// Re-export storage and repository types
type (
	Storage             = storage.Backend
	Table               = storage.Table
	Allocator           = alloc.Allocator
	Glyph               = glyph.Glyph
	Character           = glyph.Character
	GlyphRepository     = repository.Repository[*glyph.Glyph]
	CharacterRepository = repository.Repository[*glyph.Character]
)

// Re-export server and protocol types for embedding
type (
	Server      = server.Server
	Handler     = protocol.Handler
	Message     = protocol.Message
	MessageType = protocol.MessageType
	Response    = protocol.Response
	MCPServer   = mcp.Server
	Snapshot    = dump.Snapshot
)

// Re-export constructors
var (
	DefaultConfig    = config.DefaultConfig
	LoadConfig       = config.Load
	OpenStorage      = storage.Open
	NewMemoryStorage = storage.NewMemoryStorage
	NewGlyphs        = repository.NewGlyphs
	NewCharacters    = repository.NewCharacters
	NewServer        = server.New
	NewHandler       = protocol.NewHandler
	NewMessage       = protocol.NewMessage
	NewMCPServer     = mcp.NewServer
	ReadSnapshot     = dump.ReadFile
	WriteSnapshot    = dump.WriteFile
	ExportSnapshot   = dump.Export
	ImportSnapshot   = dump.Import
)
