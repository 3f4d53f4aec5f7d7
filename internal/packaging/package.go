// Package packaging zips a built extension into a distributable archive.
package packaging

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goatkit/extreload/pkg/manifest"
)

const manifestName = "manifest.json"

// DevBannerPrefix starts the description a reloader writes into a
// development build.
const DevBannerPrefix = "DEVELOPMENT build with"

var (
	ErrNoManifest = errors.New("package missing manifest.json")
	ErrDevBuild   = errors.New("manifest carries a development auto-reloader banner")
)

// Result describes a written archive.
type Result struct {
	Path     string
	Files    []string
	Manifest *manifest.Manifest
	Warnings []string
}

type options struct {
	strict bool
	logger *slog.Logger
}

// Option configures Package.
type Option func(*options)

// WithStrict turns the development build warning into an error.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithLogger injects a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Package zips distDir into outputPath. The directory must hold a valid
// manifest.json at its root. Hidden files and source maps are skipped.
func Package(distDir, outputPath string, opts ...Option) (*Result, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(filepath.Join(distDir, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("read manifest.json: %w", err)
	}
	m, err := checkManifest(data)
	if err != nil {
		return nil, err
	}

	res := &Result{Path: outputPath, Manifest: m}
	if isDevBuild(m) {
		if o.strict {
			return nil, ErrDevBuild
		}
		res.Warnings = append(res.Warnings, ErrDevBuild.Error())
		o.logger.Warn("packaging a development build", "description", m.Description)
	}

	outAbs, err := filepath.Abs(outputPath)
	if err != nil {
		return nil, err
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	zw := zip.NewWriter(outFile)
	err = filepath.WalkDir(distDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != distDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".map") {
			return nil
		}
		if abs, _ := filepath.Abs(p); abs == outAbs {
			return nil
		}

		rel, err := filepath.Rel(distDir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		res.Files = append(res.Files, name)
		return addFileToZip(zw, p, name)
	})
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := outFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outputPath)
		return nil, fmt.Errorf("package extension: %w", err)
	}

	o.logger.Info("extension packaged", "path", outputPath, "files", len(res.Files), "version", m.Version)
	return res, nil
}

// Validate checks an archive: manifest.json at the root, valid against the
// schema, and every script and stylesheet it names present.
func Validate(zipPath string) (*manifest.Manifest, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer reader.Close()

	files := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		files[path.Clean(f.Name)] = f
	}

	mf, ok := files[manifestName]
	if !ok {
		return nil, ErrNoManifest
	}
	rc, err := mf.Open()
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := checkManifest(data)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, ref := range references(m) {
		if _, ok := files[path.Clean(ref)]; !ok {
			missing = append(missing, ref)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("package missing files named by manifest.json: %s", strings.Join(missing, ", "))
	}
	return m, nil
}

func checkManifest(data []byte) (*manifest.Manifest, error) {
	if err := manifest.Validate(data); err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

func isDevBuild(m *manifest.Manifest) bool {
	return strings.HasPrefix(m.Description, DevBannerPrefix)
}

func references(m *manifest.Manifest) []string {
	var refs []string
	if bg := m.Background; bg != nil {
		refs = append(refs, bg.Scripts...)
		if bg.Page != "" {
			refs = append(refs, bg.Page)
		}
	}
	for _, cs := range m.ContentScripts {
		refs = append(refs, cs.JS...)
		refs = append(refs, cs.CSS...)
	}
	return refs
}

func addFileToZip(w *zip.Writer, srcPath, zipPath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = zipPath
	header.Method = zip.Deflate

	writer, err := w.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(writer, file)
	return err
}
