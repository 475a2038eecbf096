// Package lua runs import transforms written in Lua. A transform script
// defines a global function transform(table, entry) that receives every
// entry of a snapshot in its JSON shape and returns the entry to import, or
// nil to skip it.
package lua

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/zot/repertoire/internal/dump"
	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/storage"
)

// FunctionName is the global a script must define.
const FunctionName = "transform"

// Transformer applies a loaded script to snapshot entries. It is safe for
// concurrent use; calls are serialized on the one Lua state.
type Transformer struct {
	name  string
	state *lua.LState
	fn    *lua.LFunction
	log   *zap.SugaredLogger
	mu    sync.Mutex
}

// LoadFile loads a transform script from path.
func LoadFile(path string, log *zap.SugaredLogger) (*Transformer, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(path, string(code), log)
}

// Load runs code and looks up its transform function. The script may call
// log(message), char(code) and codepoint(string).
func Load(name, code string, log *zap.SugaredLogger) (*Transformer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &Transformer{
		name:  name,
		state: lua.NewState(),
		log:   log.With("script", name),
	}
	t.registerGlobals()

	fn, err := t.state.LoadString(code)
	if err != nil {
		t.state.Close()
		return nil, fmt.Errorf("failed to load code %s: %w", name, err)
	}
	t.state.Push(fn)
	if err := t.state.PCall(0, 0, nil); err != nil {
		t.state.Close()
		return nil, fmt.Errorf("failed to execute code %s: %w", name, err)
	}

	f, ok := t.state.GetGlobal(FunctionName).(*lua.LFunction)
	if !ok {
		t.state.Close()
		return nil, fmt.Errorf("%s does not define a %s function", name, FunctionName)
	}
	t.fn = f
	return t, nil
}

func (t *Transformer) registerGlobals() {
	L := t.state
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		t.log.Infow(L.CheckString(1))
		return 0
	}))
	L.SetGlobal("char", L.NewFunction(func(L *lua.LState) int {
		n := L.CheckInt64(1)
		if n < 0 || n > utf8.MaxRune || !utf8.ValidRune(rune(n)) {
			L.ArgError(1, fmt.Sprintf("%d is not a valid code point", n))
			return 0
		}
		L.Push(lua.LString(string(rune(n))))
		return 1
	}))
	L.SetGlobal("codepoint", L.NewFunction(func(L *lua.LState) int {
		r, size := utf8.DecodeRuneInString(L.CheckString(1))
		if size == 0 {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LNumber(r))
		}
		return 1
	}))
}

// Close releases the Lua state.
func (t *Transformer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Close()
}

// call passes entry through the script. ok is false when the script returned
// nil.
func (t *Transformer) call(table storage.Table, entry, out any) (ok bool, err error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return false, err
	}

	t.mu.Lock()
	L := t.state
	err = L.CallByParam(lua.P{Fn: t.fn, NRet: 1, Protect: true}, lua.LString(table), GoToLua(L, tree))
	var ret lua.LValue = lua.LNil
	if err == nil {
		ret = L.Get(-1)
		L.Pop(1)
	}
	t.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("%s: %w", t.name, err)
	}

	if ret == lua.LNil {
		return false, nil
	}
	if _, isTable := ret.(*lua.LTable); !isTable {
		return false, fmt.Errorf("%s: %s returned a %s, not a table", t.name, FunctionName, ret.Type())
	}
	if data, err = json.Marshal(LuaToGo(ret)); err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%s: %s returned an invalid entry: %w", t.name, FunctionName, err)
	}
	return true, nil
}

// Glyph transforms one glyph. It returns nil when the script skips it.
func (t *Transformer) Glyph(g *glyph.Glyph) (*glyph.Glyph, error) {
	var out glyph.Glyph
	ok, err := t.call(storage.TableGlyph, g, &out)
	if !ok {
		return nil, err
	}
	return &out, nil
}

// Character transforms one character. It returns nil when the script skips
// it.
func (t *Transformer) Character(c *glyph.Character) (*glyph.Character, error) {
	var out glyph.Character
	ok, err := t.call(storage.TableCharacter, c, &out)
	if !ok {
		return nil, err
	}
	return &out, nil
}

// Apply replaces the entries of s with their transforms, dropping skipped
// entries. s is left unchanged when any entry fails.
func (t *Transformer) Apply(s *dump.Snapshot) error {
	var errs []error
	glyphs := make([]*glyph.Glyph, 0, len(s.Glyphs))
	for _, g := range s.Glyphs {
		out, err := t.Glyph(g)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", storage.TableGlyph, glyph.FormatCode(g.Code), err))
			continue
		}
		if out != nil {
			glyphs = append(glyphs, out)
		}
	}
	chars := make([]*glyph.Character, 0, len(s.Characters))
	for _, c := range s.Characters {
		out, err := t.Character(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", storage.TableCharacter, glyph.FormatCode(c.Code), err))
			continue
		}
		if out != nil {
			chars = append(chars, out)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	t.log.Infow("transformed snapshot",
		"glyphs", len(glyphs), "skipped_glyphs", len(s.Glyphs)-len(glyphs),
		"characters", len(chars), "skipped_characters", len(s.Characters)-len(chars))
	s.Glyphs, s.Characters = glyphs, chars
	return nil
}
