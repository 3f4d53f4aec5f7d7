package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/goatkit/extreload/internal/config"
)

//go:embed templates/*
var templateFS embed.FS

// scaffold maps template files to the source files they produce.
var scaffold = map[string]string{
	"templates/manifest.json.tmpl": "manifest.json",
	"templates/background.ts.tmpl": "background.ts",
	"templates/content.ts.tmpl":    "content.ts",
	"templates/content.css.tmpl":   "content.css",
}

func newInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init [name]",
		Short:       "Write a default config and scaffold an extension source directory",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "my-extension"
			if len(args) == 1 {
				name = args[0]
			}
			return a.initProject(name, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")
	return cmd
}

func (a *app) initProject(name string, force bool) error {
	name = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
	if name == "" {
		return fmt.Errorf("extension name is required")
	}

	if err := config.WriteDefault(config.FileName, force); err != nil {
		return err
	}

	dir := config.Defaults().Source
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	data := map[string]string{
		"Name":        name,
		"Description": "The " + name + " browser extension",
	}
	for tmplPath, file := range scaffold {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err == nil && !force {
			fmt.Fprintf(a.stderr, "Skipping existing %s\n", path)
			continue
		}
		if err := writeTemplate(path, tmplPath, data); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.stdout, "Created %s and %s/\n", config.FileName, dir)
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, "Next steps:")
	fmt.Fprintln(a.stdout, "  extreload build --watch")
	return nil
}

func writeTemplate(path, tmplPath string, data any) error {
	content, err := templateFS.ReadFile(tmplPath)
	if err != nil {
		return fmt.Errorf("read template %s: %w", tmplPath, err)
	}

	tmpl, err := template.New(filepath.Base(tmplPath)).Parse(string(content))
	if err != nil {
		return fmt.Errorf("parse template %s: %w", tmplPath, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("execute template %s: %w", tmplPath, err)
	}
	return nil
}
