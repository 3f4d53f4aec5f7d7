// Package manifest models the browser-extension manifest.json.
//
// Only the fields the reloaders read or write are typed. Every other key
// of the document is kept verbatim and written back on serialization, so a
// parse/modify/serialize cycle never drops data it does not understand.
package manifest

import (
	"encoding/json"
	"fmt"
)

// Manifest is a parsed manifest.json.
type Manifest struct {
	ManifestVersion int             `json:"manifest_version"`
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	Description     string          `json:"description,omitempty"`
	Permissions     []string        `json:"permissions,omitempty"`
	Background      *Background     `json:"background,omitempty"`
	ContentScripts  []ContentScript `json:"content_scripts,omitempty"`

	raw map[string]json.RawMessage
}

// Background is the background page section.
type Background struct {
	Scripts    []string `json:"scripts,omitempty"`
	Page       string   `json:"page,omitempty"`
	Persistent *bool    `json:"persistent,omitempty"`

	raw map[string]json.RawMessage
}

// ContentScript is one content_scripts entry.
type ContentScript struct {
	JS      []string `json:"js,omitempty"`
	CSS     []string `json:"css,omitempty"`
	Matches []string `json:"matches,omitempty"`

	raw map[string]json.RawMessage
}

// Parse decodes a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Marshal encodes the manifest with two-space indentation.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Field returns the raw value of a top-level key as read by Parse, or nil.
func (m *Manifest) Field(key string) json.RawMessage {
	return m.raw[key]
}

// HasPermission reports whether perm is already declared.
func (m *Manifest) HasPermission(perm string) bool {
	for _, p := range m.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// AddPermissions appends the permissions not yet declared, keeping existing ones.
func (m *Manifest) AddPermissions(perms ...string) {
	for _, p := range perms {
		if !m.HasPermission(p) {
			m.Permissions = append(m.Permissions, p)
		}
	}
}

// EnsureBackground returns the background section, creating it when absent.
func (m *Manifest) EnsureBackground() *Background {
	if m.Background == nil {
		m.Background = &Background{}
	}
	return m.Background
}

// Prepend returns a new slice with head followed by the entries of tail.
func Prepend(head string, tail []string) []string {
	out := make([]string, 0, len(tail)+1)
	out = append(out, head)
	return append(out, tail...)
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	type plain Manifest
	if err := json.Unmarshal(data, (*plain)(m)); err != nil {
		return err
	}
	return json.Unmarshal(data, &m.raw)
}

func (m Manifest) MarshalJSON() ([]byte, error) {
	type plain Manifest
	return overlay(plain(m), m.raw)
}

func (b *Background) UnmarshalJSON(data []byte) error {
	type plain Background
	if err := json.Unmarshal(data, (*plain)(b)); err != nil {
		return err
	}
	return json.Unmarshal(data, &b.raw)
}

func (b Background) MarshalJSON() ([]byte, error) {
	type plain Background
	return overlay(plain(b), b.raw)
}

func (c *ContentScript) UnmarshalJSON(data []byte) error {
	type plain ContentScript
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	return json.Unmarshal(data, &c.raw)
}

func (c ContentScript) MarshalJSON() ([]byte, error) {
	type plain ContentScript
	return overlay(plain(c), c.raw)
}

// overlay encodes the typed fields and adds every raw key the typed
// encoding did not produce. Typed values win over raw ones.
func overlay(typed any, raw map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return data, nil
	}

	fields := make(map[string]json.RawMessage, len(raw))
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for key, value := range raw {
		if _, ok := fields[key]; !ok {
			fields[key] = value
		}
	}
	return json.Marshal(fields)
}
