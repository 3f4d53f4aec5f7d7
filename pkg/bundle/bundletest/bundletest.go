// Package bundletest provides a recording PluginContext and bundle fixtures
// for testing bundle plugins without a real host.
package bundletest

import (
	"fmt"
	"sync"

	"github.com/goatkit/extreload/pkg/bundle"
)

// BasicManifest is the manifest.json of the BasicBundle fixture.
const BasicManifest = `{
  "manifest_version": 2,
  "name": "basic extension",
  "version": "1.0.0",
  "description": "a basic extension",
  "permissions": ["storage"],
  "background": {
    "scripts": ["background.js"]
  },
  "content_scripts": [
    {
      "js": ["assets/content-8d3a1f.js"],
      "matches": ["https://www.google.com/*"]
    },
    {
      "js": ["assets/content-8d3a1f.js"],
      "css": ["content.css"],
      "matches": ["https://www.yahoo.com/*"]
    }
  ],
  "content_security_policy": "script-src 'self'; object-src 'self'"
}`

// BasicBundle returns a fresh output bundle with a manifest, a background
// chunk, a shared content chunk and a stylesheet.
func BasicBundle() bundle.Bundle {
	files := []*bundle.OutputFile{
		{FileName: "manifest.json", Type: bundle.TypeAsset, Source: []byte(BasicManifest), IsAsset: true},
		{FileName: "background.js", Type: bundle.TypeChunk, Source: []byte("console.log('background')")},
		{FileName: "assets/content-8d3a1f.js", Type: bundle.TypeChunk, Source: []byte("console.log('content')")},
		{FileName: "content.css", Type: bundle.TypeAsset, Source: []byte("body { color: red; }"), IsAsset: true},
	}

	b := make(bundle.Bundle, len(files))
	for _, f := range files {
		b[f.FileName] = f
	}
	return b
}

// Context is a PluginContext that records every call.
// Emitted files are not added to any bundle; GetFileName returns FileName
// when it is set, otherwise the emitted FileName or Name.
type Context struct {
	FileName string

	mu       sync.Mutex
	emitted  []bundle.EmittedFile
	errors   []string
	warnings []string
}

// NewContext returns a recording context resolving every reference to fileName.
// An empty fileName resolves references to the emitted name.
func NewContext(fileName string) *Context {
	return &Context{FileName: fileName}
}

func (c *Context) EmitFile(file bundle.EmittedFile) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, file)
	return fmt.Sprintf("ref-%d", len(c.emitted))
}

func (c *Context) GetFileName(ref string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var idx int
	if _, err := fmt.Sscanf(ref, "ref-%d", &idx); err != nil || idx < 1 || idx > len(c.emitted) {
		return ""
	}
	if c.FileName != "" {
		return c.FileName
	}
	f := c.emitted[idx-1]
	if f.FileName != "" {
		return f.FileName
	}
	return f.Name
}

func (c *Context) Error(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err.Error())
	return err
}

func (c *Context) Warn(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, message)
}

// Emitted returns the files emitted so far.
func (c *Context) Emitted() []bundle.EmittedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bundle.EmittedFile(nil), c.emitted...)
}

// EmittedNames returns Name (or FileName when Name is empty) of each emitted file.
func (c *Context) EmittedNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.emitted))
	for _, f := range c.emitted {
		if f.Name != "" {
			names = append(names, f.Name)
		} else {
			names = append(names, f.FileName)
		}
	}
	return names
}

// Errors returns the messages reported through Error.
func (c *Context) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}

// Warnings returns the messages reported through Warn.
func (c *Context) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.warnings...)
}

// Reset forgets every recorded call.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = nil
	c.errors = nil
	c.warnings = nil
}
