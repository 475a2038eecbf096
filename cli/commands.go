package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/zot/repertoire/internal/config"
	"github.com/zot/repertoire/internal/dump"
	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/logging"
	"github.com/zot/repertoire/internal/lua"
	"github.com/zot/repertoire/internal/mcp"
	"github.com/zot/repertoire/internal/protocol"
	"github.com/zot/repertoire/internal/repository"
	"github.com/zot/repertoire/internal/server"
	"github.com/zot/repertoire/internal/storage"
)

// app holds what every command needs: configuration, logger, storage and
// the protocol handler over both tables.
type app struct {
	cfg        *config.Config
	log        *zap.SugaredLogger
	store      storage.Backend
	glyphs     *repository.Repository[*glyph.Glyph]
	characters *repository.Repository[*glyph.Character]
	handler    *protocol.Handler
}

// setup parses args for command name and opens the configured storage.
// extra registers command-specific flags. It returns the positional
// arguments; a nil app with a zero code means help was printed.
func setup(name string, args []string, nargs int, extra func(*pflag.FlagSet)) (*app, []string, int) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.AddFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil, 0
		}
		return nil, nil, 2
	}
	if nargs >= 0 && fs.NArg() != nargs {
		fmt.Fprintf(stderr, "%s: expected %d arguments, got %d\n", name, nargs, fs.NArg())
		return nil, nil, 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return nil, nil, 1
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return nil, nil, 1
	}
	a, err := cfg.NewAllocator()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create allocator: %v\n", err)
		return nil, nil, 1
	}
	store, err := storage.Open(cfg.Storage.Type, cfg.Storage.Path, cfg.Storage.URL)
	if err != nil {
		log.Errorw("failed to open storage", "type", cfg.Storage.Type, "error", err)
		return nil, nil, 1
	}

	glyphs := repository.NewGlyphs(store, a, log)
	characters := repository.NewCharacters(store, a, log)
	return &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		glyphs:     glyphs,
		characters: characters,
		handler:    protocol.NewHandler(glyphs, characters, log),
	}, fs.Args(), 0
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warnw("failed to close storage", "error", err)
	}
	a.log.Sync()
}

func runServe(args []string) int {
	a, _, code := setup("serve", args, 0, nil)
	if a == nil {
		return code
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(a.cfg, a.handler, a.log)
	url, err := srv.Start()
	if err != nil {
		a.log.Errorw("server error", "error", err)
		return 1
	}
	a.log.Infow("serving", "url", url, "storage", a.cfg.Storage.Type)

	<-ctx.Done()
	a.log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warnw("shutdown incomplete", "error", err)
		return 1
	}
	return 0
}

func runMCP(args []string) int {
	a, _, code := setup("mcp", args, 0, nil)
	if a == nil {
		return code
	}
	defer a.close()

	if err := mcp.NewServer(a.handler, Version, a.log).ServeStdio(); err != nil {
		a.log.Errorw("MCP server error", "error", err)
		return 1
	}
	return 0
}

func runImport(args []string) int {
	var script string
	a, rest, code := setup("import", args, 1, func(fs *pflag.FlagSet) {
		fs.StringVar(&script, "transform", "", "Lua script rewriting each entry before import")
	})
	if a == nil {
		return code
	}
	defer a.close()

	snap, err := dump.ReadFile(rest[0])
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read %s: %v\n", rest[0], err)
		return 1
	}
	if script != "" {
		tr, err := lua.LoadFile(script, a.log)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load transform: %v\n", err)
			return 1
		}
		err = tr.Apply(snap)
		tr.Close()
		if err != nil {
			fmt.Fprintf(stderr, "Transform failed: %v\n", err)
			return 1
		}
	}

	g, c, err := dump.Import(context.Background(), a.glyphs, a.characters, snap)
	if err != nil {
		return printResponse(protocol.ErrorResponse(err))
	}
	a.log.Infow("imported", "file", rest[0], "glyphs", g, "characters", c)
	fmt.Fprintf(stdout, "imported %d glyphs and %d characters\n", g, c)
	return 0
}

func runExport(args []string) int {
	a, rest, code := setup("export", args, 1, nil)
	if a == nil {
		return code
	}
	defer a.close()

	snap, err := dump.Export(context.Background(), a.glyphs, a.characters)
	if err != nil {
		return printResponse(protocol.ErrorResponse(err))
	}
	if err := dump.WriteFile(rest[0], snap); err != nil {
		fmt.Fprintf(stderr, "Failed to write %s: %v\n", rest[0], err)
		return 1
	}
	fmt.Fprintf(stdout, "exported %d glyphs and %d characters\n", len(snap.Glyphs), len(snap.Characters))
	return 0
}

// runCodeCommand serves get, refs and delete, which take a table and a code.
func runCodeCommand(command string, args []string) int {
	a, rest, code := setup(command, args, 2, nil)
	if a == nil {
		return code
	}
	defer a.close()

	t := map[string]protocol.MessageType{
		"get":    protocol.MsgGet,
		"refs":   protocol.MsgReferences,
		"delete": protocol.MsgDelete,
	}[command]
	return a.send(t, rest[0], map[string]string{"code": rest[1]})
}

func runList(args []string) int {
	var offset, limit int
	a, rest, code := setup("list", args, 1, func(fs *pflag.FlagSet) {
		fs.IntVar(&offset, "offset", 0, "entries to skip")
		fs.IntVar(&limit, "limit", -1, "maximum entries to show (-1 for all)")
	})
	if a == nil {
		return code
	}
	defer a.close()

	return a.send(protocol.MsgList, rest[0], protocol.ListMessage{Offset: offset, Limit: &limit})
}

func runCreate(args []string) int {
	a, rest, code := setup("create", args, 2, nil)
	if a == nil {
		return code
	}
	defer a.close()

	entry, err := readEntry(rest[1])
	if err != nil {
		fmt.Fprintf(stderr, "create: %v\n", err)
		return 1
	}
	return a.send(protocol.MsgCreate, rest[0], entry)
}

func runUpdate(args []string) int {
	a, rest, code := setup("update", args, 3, nil)
	if a == nil {
		return code
	}
	defer a.close()

	entry, err := readEntry(rest[2])
	if err != nil {
		fmt.Fprintf(stderr, "update: %v\n", err)
		return 1
	}
	return a.send(protocol.MsgUpdate, rest[0], map[string]any{"code": rest[1], "entry": entry})
}

func runRename(args []string) int {
	a, rest, code := setup("rename", args, 3, nil)
	if a == nil {
		return code
	}
	defer a.close()

	return a.send(protocol.MsgRename, rest[0], map[string]string{"code": rest[1], "to": rest[2]})
}

// send runs one protocol message against the local store and prints the
// response.
func (a *app) send(t protocol.MessageType, table string, data any) int {
	msg, err := protocol.NewMessage(t, storage.Table(table), data)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printResponse(a.handler.HandleMessage(context.Background(), msg))
}

// printResponse writes resp as JSON and returns 1 when it carries an error.
func printResponse(resp *protocol.Response) int {
	output, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Fprintln(stdout, string(output))
	if !resp.OK() {
		return 1
	}
	return 0
}

// readEntry returns literal JSON, the contents of @file, or stdin for "-".
func readEntry(arg string) (json.RawMessage, error) {
	var data []byte
	var err error
	switch {
	case arg == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		data, err = os.ReadFile(arg[1:])
	default:
		data = []byte(arg)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, errors.New("entry is not valid JSON")
	}
	return data, nil
}
