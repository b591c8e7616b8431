// Package bundler packs build artifacts into signed tar.zst bundles for upload to the
// release tracker.
package bundler

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"releasekit/services/inject"
)

const (
	manifestFileName = "manifest.yaml"
	filesTarPrefix   = "files"
)

// Build assembles a bundle from cfg.Files and writes the tar.zst archive to cfg.Output.
func Build(ctx context.Context, cfg BuildConfig) (*Manifest, error) {
	if len(cfg.Files) == 0 {
		return nil, errors.New("no files to bundle")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if strings.TrimSpace(cfg.Release) == "" {
		return nil, errors.New("release name is required")
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	entries, sources, err := collectFiles(ctx, root, cfg.Files)
	if err != nil {
		return nil, err
	}
	linkSourceMapIDs(entries)

	manifest := &Manifest{
		Version:   manifestVersion,
		CreatedAt: cfg.Now().UTC().Truncate(time.Second),
		Release:   cfg.Release,
		Dist:      cfg.Dist,
		Files:     entries,
	}

	if cfg.Signer != nil {
		manifest.Signer = cfg.Signer.Recipient()
		manifest.SigningPublicKey = cfg.Signer.PublicKeyBase64()
		payload, err := manifest.SigningBytes()
		if err != nil {
			return nil, fmt.Errorf("marshal manifest for signing: %w", err)
		}
		sig, err := cfg.Signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("sign manifest: %w", err)
		}
		manifest.Signature = sig
	}

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeBundle(cfg.Output, manifestBytes, entries, sources); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d files, %d debug ids)\n", cfg.Output, len(entries), len(manifest.DebugIDs()))
	return manifest, nil
}

func collectFiles(ctx context.Context, root string, files []string) ([]ManifestFile, map[string]string, error) {
	entries := make([]ManifestFile, 0, len(files))
	sources := make(map[string]string, len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		abs := file
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, file)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return nil, nil, fmt.Errorf("relative path for %q: %w", file, err)
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, nil, fmt.Errorf("file %q is outside %s", file, root)
		}
		rel = filepath.ToSlash(rel)
		if _, dup := sources[rel]; dup {
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %q: %w", file, err)
		}
		if !info.Mode().IsRegular() {
			return nil, nil, fmt.Errorf("%q is not a regular file", file)
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, nil, fmt.Errorf("read %q: %w", file, err)
		}
		sum := sha256.Sum256(data)
		kind := inferKind(rel)

		entries = append(entries, ManifestFile{
			Path:    rel,
			Kind:    kind,
			Size:    int64(len(data)),
			SHA256:  hex.EncodeToString(sum[:]),
			DebugID: debugIDOf(kind, data),
		})
		sources[rel] = abs
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries, sources, nil
}

// linkSourceMapIDs gives a source map without its own debug id the id of the file it maps.
func linkSourceMapIDs(entries []ManifestFile) {
	ids := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Kind == KindMinifiedSource && e.DebugID != "" {
			ids[e.Path] = e.DebugID
		}
	}
	for i, e := range entries {
		if e.Kind == KindSourceMap && e.DebugID == "" {
			entries[i].DebugID = ids[strings.TrimSuffix(e.Path, ".map")]
		}
	}
}

func debugIDOf(kind string, data []byte) string {
	switch kind {
	case KindMinifiedSource:
		id, _ := inject.ExtractDebugID(data)
		return id
	case KindSourceMap:
		var sm struct {
			DebugID      string `json:"debugId"`
			DebugIDSnake string `json:"debug_id"`
		}
		if err := json.Unmarshal(data, &sm); err != nil {
			return ""
		}
		if sm.DebugID != "" {
			return sm.DebugID
		}
		return sm.DebugIDSnake
	default:
		return ""
	}
}

func writeBundle(output string, manifest []byte, entries []ManifestFile, sources map[string]string) (err error) {
	dir := filepath.Dir(output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output file: %w", cerr)
		}
	}()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)

	if err := writeEntries(tw, manifest, entries, sources); err != nil {
		tw.Close()
		encoder.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		encoder.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

func writeEntries(tw *tar.Writer, manifest []byte, entries []ManifestFile, sources map[string]string) error {
	manifestHeader := &tar.Header{
		Name:     manifestFileName,
		Mode:     0o644,
		Size:     int64(len(manifest)),
		ModTime:  time.Now().UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(manifestHeader); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("write manifest body: %w", err)
	}

	for _, entry := range entries {
		src := sources[entry.Path]
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("stat %q: %w", entry.Path, err)
		}
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open %q: %w", entry.Path, err)
		}

		header := &tar.Header{
			Name:     path.Join(filesTarPrefix, entry.Path),
			Mode:     int64(info.Mode().Perm()),
			Size:     entry.Size,
			ModTime:  info.ModTime(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			f.Close()
			return fmt.Errorf("write header for %q: %w", entry.Path, err)
		}
		if _, err := io.CopyN(tw, f, entry.Size); err != nil {
			f.Close()
			return fmt.Errorf("copy %q: %w", entry.Path, err)
		}
		f.Close()
	}
	return nil
}

func inferKind(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".map"):
		return KindSourceMap
	case strings.HasSuffix(lower, ".js"), strings.HasSuffix(lower, ".mjs"), strings.HasSuffix(lower, ".cjs"):
		return KindMinifiedSource
	default:
		return KindFile
	}
}

// Verify reads a bundle back, checks every file against the manifest and validates the
// manifest signature when one is present.
func Verify(ctx context.Context, cfg VerifyConfig) (*Manifest, error) {
	if cfg.BundlePath == "" {
		return nil, errors.New("bundle file is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundleFile, err := os.Open(cfg.BundlePath)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer bundleFile.Close()

	decoder, err := zstd.NewReader(bundleFile)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	type digest struct {
		size int64
		sha  string
	}
	var (
		manifestBytes []byte
		files         = map[string]digest{}
	)

	tr := tar.NewReader(decoder)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(header.Name)
		if name == manifestFileName {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			manifestBytes = data
			continue
		}
		if !strings.HasPrefix(name, filesTarPrefix+"/") {
			return nil, fmt.Errorf("unexpected entry %q", name)
		}

		hash := sha256.New()
		size, err := io.Copy(hash, tr)
		if err != nil {
			return nil, fmt.Errorf("hash %q: %w", name, err)
		}
		files[strings.TrimPrefix(name, filesTarPrefix+"/")] = digest{size: size, sha: hex.EncodeToString(hash.Sum(nil))}
	}

	if len(manifestBytes) == 0 {
		return nil, errors.New("bundle missing manifest.yaml")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}

	for _, f := range manifest.Files {
		got, ok := files[f.Path]
		if !ok {
			return nil, fmt.Errorf("file %q missing from archive", f.Path)
		}
		if got.size != f.Size {
			return nil, fmt.Errorf("size mismatch for %q: expected %d got %d", f.Path, f.Size, got.size)
		}
		if !strings.EqualFold(got.sha, f.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %q", f.Path)
		}
		delete(files, f.Path)
	}
	if len(files) > 0 {
		extra := make([]string, 0, len(files))
		for name := range files {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("archive contains files not in manifest: %s", strings.Join(extra, ", "))
	}

	switch {
	case manifest.Signature != "":
		verifier := cfg.Signer
		if verifier == nil {
			verifier = &Signer{}
		}
		payload, err := manifest.SigningBytes()
		if err != nil {
			return nil, fmt.Errorf("marshal manifest for verification: %w", err)
		}
		if err := verifier.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
			return nil, fmt.Errorf("verify manifest signature: %w", err)
		}
		fmt.Fprintf(cfg.Stdout, "verified manifest signed at %s\n", manifest.CreatedAt.Format(time.RFC3339))
	case cfg.RequireSignature:
		return nil, errors.New("manifest missing signature")
	}

	return &manifest, nil
}
