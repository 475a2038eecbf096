// Package dump reads and writes snapshots of both tables. A snapshot is the
// JSON document of the external representation; YAML and CBOR renditions
// carry the same tree, and a ".zst" suffix compresses any of them.
package dump

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/repository"
)

// Version is the snapshot layout written by Export.
const Version = 1

// Snapshot holds every entry of both tables.
type Snapshot struct {
	Version    int                `json:"version"`
	Glyphs     []*glyph.Glyph     `json:"form"`
	Characters []*glyph.Character `json:"repertoire"`
}

// Format is a snapshot serialization.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	CBOR Format = "cbor"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("dump: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("dump: CBOR decoder initialization failed: " + err.Error())
	}
}

// FormatOf picks the format from a file name. compressed reports a trailing
// ".zst".
func FormatOf(path string) (f Format, compressed bool, err error) {
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".zst") {
		compressed = true
		name = strings.TrimSuffix(name, ".zst")
	}
	switch filepath.Ext(name) {
	case ".json":
		return JSON, compressed, nil
	case ".yaml", ".yml":
		return YAML, compressed, nil
	case ".cbor":
		return CBOR, compressed, nil
	}
	return "", false, fmt.Errorf("dump: cannot tell the format of %q", path)
}

// Encode writes s to w in format f.
func Encode(w io.Writer, s *Snapshot, f Format) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if f == JSON {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(w)
		return err
	}

	tree, err := toTree(data)
	if err != nil {
		return err
	}
	switch f {
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return err
		}
		return enc.Close()
	case CBOR:
		return encMode.NewEncoder(w).Encode(tree)
	}
	return fmt.Errorf("dump: unknown format %q", f)
}

// Decode reads a snapshot in format f from r.
func Decode(r io.Reader, f Format) (*Snapshot, error) {
	var data []byte
	switch f {
	case JSON:
		var err error
		if data, err = io.ReadAll(r); err != nil {
			return nil, err
		}
	case YAML, CBOR:
		var tree any
		var err error
		if f == YAML {
			err = yaml.NewDecoder(r).Decode(&tree)
		} else {
			err = decMode.NewDecoder(r).Decode(&tree)
		}
		if err != nil {
			return nil, fmt.Errorf("dump: decode %s: %w", f, err)
		}
		if data, err = json.Marshal(tree); err != nil {
			return nil, fmt.Errorf("dump: decode %s: %w", f, err)
		}
	default:
		return nil, fmt.Errorf("dump: unknown format %q", f)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("dump: decode %s: %w", f, err)
	}
	if s.Version > Version {
		return nil, fmt.Errorf("dump: snapshot version %d is newer than %d", s.Version, Version)
	}
	return &s, nil
}

// toTree decodes JSON into maps, slices and scalars with integers kept
// integral.
func toTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return normalize(tree), nil
}

func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = normalize(e)
		}
	case []any:
		for i, e := range v {
			v[i] = normalize(e)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	}
	return v
}

// WriteFile writes s to path in the format its name selects.
func WriteFile(path string, s *Snapshot) (err error) {
	f, compressed, err := FormatOf(path)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	if !compressed {
		return Encode(file, s, f)
	}
	zw, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := Encode(zw, s, f); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadFile reads a snapshot from path in the format its name selects.
func ReadFile(path string) (*Snapshot, error) {
	f, compressed, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if !compressed {
		return Decode(file, f)
	}
	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return Decode(zr, f)
}

// Export reads every entry of both tables from one transaction.
func Export(ctx context.Context, glyphs *repository.Repository[*glyph.Glyph], characters *repository.Repository[*glyph.Character]) (*Snapshot, error) {
	gs, cs, err := repository.ListAll(ctx, glyphs, characters)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Version: Version, Glyphs: gs, Characters: cs}, nil
}

// Import creates every entry of s in one transaction and returns how many of
// each table were written.
func Import(ctx context.Context, glyphs *repository.Repository[*glyph.Glyph], characters *repository.Repository[*glyph.Character], s *Snapshot) (int, int, error) {
	gcodes, ccodes, err := repository.ImportAll(ctx, glyphs, characters, s.Glyphs, s.Characters)
	if err != nil {
		return 0, 0, err
	}
	return len(gcodes), len(ccodes), nil
}
