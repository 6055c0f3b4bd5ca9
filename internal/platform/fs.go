package platform

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
)

// ActivePluginsKey holds the JSON list of active plugin files
const ActivePluginsKey = "active_plugins"

const lockFileName = ".pluginhub.lock"

// FS manages a WordPress style plugins directory: one folder per plugin with
// a PHP file carrying the plugin header. Activation state lives in the
// key/value store. Installer operations hold a file lock so only one runs at
// a time across processes.
type FS struct {
	root       string
	store      kvstore.Store
	downloader Downloader
	logger     *slog.Logger

	mu   sync.Mutex
	lock *flock.Flock
}

// NewFS creates the plugins directory if needed
func NewFS(root string, store kvstore.Store, downloader Downloader, logger *slog.Logger) (*FS, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plugins directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{
		root:       root,
		store:      store,
		downloader: downloader,
		logger:     logger.With("component", "platform"),
		lock:       flock.New(filepath.Join(root, lockFileName)),
	}, nil
}

// Root returns the plugins directory
func (f *FS) Root() string {
	return f.root
}

// withLock serializes installer operations in this process and across
// processes sharing the directory.
func (f *FS) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	return fn()
}

// Plugins implements Platform
func (f *FS) Plugins(_ context.Context) ([]Plugin, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var plugins []Plugin
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		if !entry.IsDir() {
			if strings.HasSuffix(name, ".php") {
				if p, ok := readHeader(filepath.Join(f.root, name)); ok {
					p.File = name
					plugins = append(plugins, p)
				}
			}
			continue
		}

		plugins = append(plugins, scanPluginDir(filepath.Join(f.root, name), name)...)
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].File < plugins[j].File
	})
	return plugins, nil
}

// scanPluginDir returns the plugins declared by PHP files directly inside dir
func scanPluginDir(dir, slug string) []Plugin {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var plugins []Plugin
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".php") {
			continue
		}
		if p, ok := readHeader(filepath.Join(dir, file.Name())); ok {
			p.File = path.Join(slug, file.Name())
			plugins = append(plugins, p)
		}
	}
	return plugins
}

// mainPluginFile picks the file a freshly unpacked plugin is known by,
// preferring <slug>/<slug>.php.
func mainPluginFile(dir, slug string) (string, bool) {
	plugins := scanPluginDir(dir, slug)
	if len(plugins) == 0 {
		return "", false
	}
	preferred := path.Join(slug, slug+".php")
	for _, p := range plugins {
		if p.File == preferred {
			return p.File, true
		}
	}
	return plugins[0].File, true
}

// ActivePlugins implements Platform
func (f *FS) ActivePlugins(ctx context.Context) ([]string, error) {
	var active []string
	err := kvstore.GetJSON(ctx, f.store, ActivePluginsKey, &active)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return active, nil
}

func (f *FS) saveActive(ctx context.Context, active []string) error {
	sort.Strings(active)
	return kvstore.SetJSON(ctx, f.store, ActivePluginsKey, active, 0)
}

// Activate implements Platform
func (f *FS) Activate(ctx context.Context, file string) error {
	full, err := f.pluginPath(file)
	if err != nil {
		return err
	}
	if _, ok := readHeader(full); !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, file)
	}

	return f.withLock(ctx, func() error {
		active, err := f.ActivePlugins(ctx)
		if err != nil {
			return err
		}
		for _, a := range active {
			if a == file {
				return nil
			}
		}
		f.logger.Info("Plugin activated", "file", file)
		return f.saveActive(ctx, append(active, file))
	})
}

// Deactivate implements Platform. Deactivating an inactive plugin is a no-op.
func (f *FS) Deactivate(ctx context.Context, file string) error {
	return f.withLock(ctx, func() error {
		return f.removeActive(ctx, file)
	})
}

func (f *FS) removeActive(ctx context.Context, file string) error {
	active, err := f.ActivePlugins(ctx)
	if err != nil {
		return err
	}
	kept := active[:0]
	removed := false
	for _, a := range active {
		if a == file {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	if !removed {
		return nil
	}
	f.logger.Info("Plugin deactivated", "file", file)
	return f.saveActive(ctx, kept)
}

// Install implements Platform
func (f *FS) Install(ctx context.Context, slug, packageURL string) (string, error) {
	if err := validateSlug(slug); err != nil {
		return "", err
	}

	var file string
	err := f.withLock(ctx, func() error {
		dest := filepath.Join(f.root, slug)
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, slug)
		}

		staging, cleanup, err := f.fetchPackage(ctx, packageURL)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := os.Rename(staging, dest); err != nil {
			return fmt.Errorf("failed to move plugin into place: %w", err)
		}

		mainFile, ok := mainPluginFile(dest, slug)
		if !ok {
			_ = os.RemoveAll(dest)
			return ErrNoPluginFound
		}
		file = mainFile
		return nil
	})
	if err != nil {
		return "", err
	}

	f.logger.Info("Plugin installed", "slug", slug, "file", file)
	return file, nil
}

// Upgrade implements Platform. The previous copy is restored when the new
// package cannot be put in place.
func (f *FS) Upgrade(ctx context.Context, file, packageURL string) error {
	slug, _, ok := strings.Cut(file, "/")
	if !ok {
		return fmt.Errorf("cannot upgrade single-file plugin %s", file)
	}
	if err := validateSlug(slug); err != nil {
		return err
	}

	return f.withLock(ctx, func() error {
		dest := filepath.Join(f.root, slug)
		if _, err := os.Stat(dest); err != nil {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, file)
		}

		staging, cleanup, err := f.fetchPackage(ctx, packageURL)
		if err != nil {
			return err
		}
		defer cleanup()

		backup := filepath.Join(f.root, "."+slug+".backup")
		_ = os.RemoveAll(backup)
		if err := os.Rename(dest, backup); err != nil {
			return fmt.Errorf("failed to backup existing plugin: %w", err)
		}

		restore := func(cause error) error {
			_ = os.RemoveAll(dest)
			if err := os.Rename(backup, dest); err != nil {
				f.logger.Error("Failed to restore plugin backup", "slug", slug, "error", err)
			}
			return cause
		}

		if err := os.Rename(staging, dest); err != nil {
			return restore(fmt.Errorf("failed to move plugin into place: %w", err))
		}
		mainFile, ok := mainPluginFile(dest, slug)
		if !ok {
			return restore(ErrNoPluginFound)
		}

		_ = os.RemoveAll(backup)

		if mainFile != file {
			active, err := f.ActivePlugins(ctx)
			if err != nil {
				return err
			}
			for i, a := range active {
				if a == file {
					active[i] = mainFile
					if err := f.saveActive(ctx, active); err != nil {
						return err
					}
					break
				}
			}
		}

		f.logger.Info("Plugin upgraded", "file", mainFile)
		return nil
	})
}

// Delete implements Platform. It removes the plugin folder, or the file for
// single-file plugins, and drops it from the active set.
func (f *FS) Delete(ctx context.Context, file string) error {
	full, err := f.pluginPath(file)
	if err != nil {
		return err
	}

	return f.withLock(ctx, func() error {
		target := full
		if slug, _, ok := strings.Cut(file, "/"); ok {
			target = filepath.Join(f.root, slug)
		}
		if _, err := os.Stat(target); err != nil {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, file)
		}
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("failed to delete plugin files: %w", err)
		}
		f.logger.Info("Plugin deleted", "file", file)
		return f.removeActive(ctx, file)
	})
}

// pluginPath resolves a plugin file inside the root, rejecting traversal
func (f *FS) pluginPath(file string) (string, error) {
	clean := path.Clean(file)
	if file == "" || path.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", fmt.Errorf("%w: %s", ErrPluginNotFound, file)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

// fetchPackage downloads and unpacks a zip archive into a staging directory
// and returns the directory holding the plugin files.
func (f *FS) fetchPackage(ctx context.Context, packageURL string) (string, func(), error) {
	tmp, err := os.CreateTemp(f.root, ".download-*.zip")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create download file: %w", err)
	}
	tmpPath := tmp.Name()

	stagingRoot, err := os.MkdirTemp(f.root, ".staging-")
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	cleanup := func() {
		_ = os.Remove(tmpPath)
		_ = os.RemoveAll(stagingRoot)
	}

	_, err = f.downloader.Download(ctx, packageURL, tmp)
	closeErr := tmp.Close()
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download failed: %w", err)
	}
	if closeErr != nil {
		cleanup()
		return "", nil, closeErr
	}

	if err := extractZip(tmpPath, stagingRoot); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("incompatible archive: %w", err)
	}

	src, err := packageRoot(stagingRoot)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return src, cleanup, nil
}

// packageRoot returns the single top-level directory of an unpacked archive,
// as GitHub zipballs wrap everything in "<owner>-<repo>-<sha>/".
func packageRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("empty archive")
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for _, zf := range r.File {
		name := path.Clean(strings.ReplaceAll(zf.Name, "\\", "/"))
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("illegal path in archive: %s", zf.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		case mode&os.ModeSymlink != 0:
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := writeZipFile(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipFile(zf *zip.File, target string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func validateSlug(slug string) error {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) || strings.HasPrefix(slug, ".") {
		return fmt.Errorf("invalid plugin slug %q", slug)
	}
	return nil
}
