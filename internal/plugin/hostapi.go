package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/goatkit/extreload/pkg/bundle"
)

// AssetDir is the output directory of named assets.
const AssetDir = "assets"

// Context is the host API handed to one plugin for one bundle.
// Emitted files enter the bundle immediately.
type Context struct {
	plugin string
	bundle bundle.Bundle
	logs   *LogBuffer
	logger *slog.Logger

	mu   sync.Mutex
	refs map[string]string
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithContextLogs records reported errors and warnings in buf.
func WithContextLogs(buf *LogBuffer) ContextOption {
	return func(c *Context) {
		c.logs = buf
	}
}

// WithContextLogger injects a custom logger.
func WithContextLogger(l *slog.Logger) ContextOption {
	return func(c *Context) {
		c.logger = l
	}
}

// NewContext binds a context for plugin to b.
func NewContext(plugin string, b bundle.Bundle, opts ...ContextOption) *Context {
	c := &Context{
		plugin: plugin,
		bundle: b,
		logger: slog.Default(),
		refs:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmitFile adds file to the bundle and returns a reference id.
// A fixed FileName is used verbatim; otherwise the name is derived from
// Name and the content hash.
func (c *Context) EmitFile(file bundle.EmittedFile) string {
	fileName := file.FileName
	if fileName == "" {
		fileName = AssetFileName(file.Name, file.Source)
	}
	typ := file.Type
	if typ == "" {
		typ = bundle.TypeAsset
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.bundle[fileName]; ok && string(prev.Source) != string(file.Source) {
		c.logger.Debug("emitted file replaces bundle entry", "plugin", c.plugin, "file", fileName)
	}
	c.bundle[fileName] = &bundle.OutputFile{
		FileName: fileName,
		Type:     typ,
		Source:   append([]byte(nil), file.Source...),
		IsAsset:  typ == bundle.TypeAsset,
	}

	ref := uuid.NewString()
	c.refs[ref] = fileName
	return ref
}

// GetFileName resolves a reference returned by EmitFile.
func (c *Context) GetFileName(ref string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[ref]
}

// Error records err as a fatal plugin error and returns it unchanged.
func (c *Context) Error(err error) error {
	if err == nil {
		return nil
	}
	c.logger.Error("plugin error", "plugin", c.plugin, "error", err)
	if c.logs != nil {
		c.logs.Log(c.plugin, LevelError, err.Error())
	}
	return err
}

// Warn records a non-fatal plugin problem.
func (c *Context) Warn(message string) {
	c.logger.Warn("plugin warning", "plugin", c.plugin, "message", message)
	if c.logs != nil {
		c.logs.Log(c.plugin, LevelWarn, message)
	}
}

// AssetFileName returns assets/<stem>-<hash><ext>, hash being the first
// eight hex digits of the SHA-256 of source.
func AssetFileName(name string, source []byte) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = "asset"
	}
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	sum := sha256.Sum256(source)
	return AssetDir + "/" + stem + "-" + hex.EncodeToString(sum[:])[:8] + ext
}
