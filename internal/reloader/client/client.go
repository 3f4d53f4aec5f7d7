// Package client renders the JavaScript reload clients injected into the
// extension. Templates carry %NAME% placeholders that are replaced with
// JavaScript string literals, and every rendered script is parsed before it
// is handed to the bundle.
package client

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/dop251/goja"
)

// Template names.
const (
	SimpleBackground = "simple-background.js"
	Content          = "content-client.js"
	PushWorker       = "push-sw.js"
	PushBackground   = "push-background.js"
	PushWrapper      = "push-wrapper.js"
)

// Placeholder names.
const (
	LoadMessage   = "LOAD_MESSAGE"
	TimestampPath = "TIMESTAMP_PATH"
	WorkerPath    = "SW_PATH"
	UserID        = "USER_ID"
	RegisterURL   = "REGISTER_URL"
	BgClientPath  = "BG_CLIENT_PATH"
)

//go:embed scripts/*.js
var scripts embed.FS

var placeholder = regexp.MustCompile(`%([A-Z_]+)%`)

// Render fills the placeholders of the named template.
// Every placeholder in the template must have a value in vars.
func Render(name string, vars map[string]string) (string, error) {
	src, err := scripts.ReadFile("scripts/" + name)
	if err != nil {
		return "", fmt.Errorf("unknown client template %q: %w", name, err)
	}

	var missing []string
	out := placeholder.ReplaceAllFunc(src, func(token []byte) []byte {
		key := string(token[1 : len(token)-1])
		value, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return token
		}
		quoted, _ := json.Marshal(value)
		return quoted
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("client template %s: no value for %v", name, missing)
	}

	if _, err := goja.Compile(name, string(out), false); err != nil {
		return "", fmt.Errorf("client template %s: rendered script does not parse: %w", name, err)
	}
	return string(out), nil
}
