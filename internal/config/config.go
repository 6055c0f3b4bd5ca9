// Package config provides configuration management for the plugin hub
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const encryptedPrefix = "encrypted:"

// Config represents the plugin hub configuration
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	System   SystemConfig   `yaml:"system"`
	GitHub   GitHubConfig   `yaml:"github"`
	Manifest ManifestConfig `yaml:"manifest"`
	Platform PlatformConfig `yaml:"platform"`
	Store    StoreConfig    `yaml:"store"`
	Events   EventsConfig   `yaml:"events"`
	Auth     AuthConfig     `yaml:"auth"`
	CLI      CLIConfig      `yaml:"cli"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
	encKey   []byte          `yaml:"-"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Address         string   `yaml:"address"`
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins,omitempty"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_seconds,omitempty"`
}

// SystemConfig holds system-wide settings
type SystemConfig struct {
	Name     string         `yaml:"name"`
	DataPath string         `yaml:"data_path"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite path, defaults to <data_path>/pluginhub.db
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	BufferSize int    `yaml:"buffer_size,omitempty"`
}

// GitHubConfig holds GitHub API settings
type GitHubConfig struct {
	Organization   string `yaml:"organization"`
	Token          string `yaml:"token,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// ManifestConfig selects where the plugin list comes from
type ManifestConfig struct {
	Source          string   `yaml:"source"` // csv or github
	CSVURL          string   `yaml:"csv_url,omitempty"`
	CacheTTL        string   `yaml:"cache_ttl"`
	Strict          bool     `yaml:"strict,omitempty"`
	Repos           []string `yaml:"repos,omitempty"`
	ShowBetaDefault bool     `yaml:"show_beta_default,omitempty"`
}

// TTL parses CacheTTL, falling back to 24h
func (m ManifestConfig) TTL() time.Duration {
	d, err := time.ParseDuration(m.CacheTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// PlatformConfig holds host platform settings
type PlatformConfig struct {
	PluginsDir string `yaml:"plugins_dir"`
}

// StoreConfig selects the option store backend
type StoreConfig struct {
	Backend string      `yaml:"backend"` // sqlite, redis or memory
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// EventsConfig holds embedded event bus settings
type EventsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	JetStream bool   `yaml:"jetstream,omitempty"`
}

// AuthConfig holds API users
type AuthConfig struct {
	Users         []UserConfig `yaml:"users"`
	NonceLifetime string       `yaml:"nonce_lifetime,omitempty"`
}

// NonceTTL parses NonceLifetime, falling back to 24h
func (a AuthConfig) NonceTTL() time.Duration {
	d, err := time.ParseDuration(a.NonceLifetime)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// UserConfig binds an API token to a role
type UserConfig struct {
	Name         string   `yaml:"name"`
	Token        string   `yaml:"token"`
	Role         string   `yaml:"role"`
	Capabilities []string `yaml:"capabilities,omitempty"`
}

// CLIConfig holds the identity used by local commands
type CLIConfig struct {
	User string `yaml:"user,omitempty"`
	Role string `yaml:"role,omitempty"`
}

// Default returns a configuration with every default applied
func Default(path string) *Config {
	cfg := &Config{path: path, encKey: getEncryptionKey()}
	cfg.Events.Enabled = true
	cfg.applyEnv()
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{Events: EventsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.encKey = getEncryptionKey()

	if err := cfg.decryptSecrets(); err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault loads path, or returns defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("Config file not found, using defaults", "path", path)
		return Default(path), nil
	}
	return cfg, err
}

// FindConfigFile returns CONFIG_PATH or the first existing well-known location
func FindConfigFile(dataPath string) string {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	locations := []string{
		filepath.Join(dataPath, "config.yaml"),
		"./config/config.yaml",
		"/etc/pluginhub/config.yaml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return filepath.Join(dataPath, "config.yaml")
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	switch c.Manifest.Source {
	case "csv", "github":
	default:
		return fmt.Errorf("invalid manifest source %q", c.Manifest.Source)
	}
	switch c.Store.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid store backend %q", c.Store.Backend)
	}

	seen := make(map[string]bool, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		if u.Name == "" || u.Token == "" {
			return fmt.Errorf("auth.users[%d]: name and token are required", i)
		}
		if seen[u.Token] {
			return fmt.Errorf("auth.users[%d]: duplicate token", i)
		}
		seen[u.Token] = true
	}
	return nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version:  c.Version,
		Server:   c.Server,
		System:   c.System,
		GitHub:   c.GitHub,
		Manifest: c.Manifest,
		Platform: c.Platform,
		Store:    c.Store,
		Events:   c.Events,
		Auth:     AuthConfig{Users: append([]UserConfig(nil), c.Auth.Users...), NonceLifetime: c.Auth.NonceLifetime},
		CLI:      c.CLI,
		path:     c.path,
		encKey:   c.encKey,
	}
	if err := cfgCopy.encryptSecrets(); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Plugin Hub Configuration\n# Tokens are encrypted on save\n\n"
	data = append([]byte(header), data...)

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes until stop is closed
func (c *Config) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Atomic saves replace the file, so renames and creates count too
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
					if event.Op&fsnotify.Rename != 0 {
						_ = watcher.Add(c.GetPath())
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.GetPath())
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.GetPath())
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.Server = newCfg.Server
	c.System = newCfg.System
	c.GitHub = newCfg.GitHub
	c.Manifest = newCfg.Manifest
	c.Platform = newCfg.Platform
	c.Store = newCfg.Store
	c.Events = newCfg.Events
	c.Auth = newCfg.Auth
	c.CLI = newCfg.CLI
	c.encKey = newCfg.encKey
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// Snapshot returns a copy of the current manifest and auth settings
func (c *Config) Snapshot() (ManifestConfig, AuthConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Manifest, c.Auth
}

// UpsertUser adds or replaces the user with the same name and saves
func (c *Config) UpsertUser(u UserConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Auth.Users {
		if c.Auth.Users[i].Name == u.Name {
			c.Auth.Users[i] = u
			return c.saveUnlocked()
		}
	}
	c.Auth.Users = append(c.Auth.Users, u)
	return c.saveUnlocked()
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// applyEnv lets the environment override file values
func (c *Config) applyEnv() {
	if v := os.Getenv("DATA_PATH"); v != "" {
		c.System.DataPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.System.Logging.Level = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.System.Name == "" {
		c.System.Name = "Plugin Hub"
	}
	if c.System.DataPath == "" {
		c.System.DataPath = "/data"
	}
	if c.System.Database.Path == "" {
		c.System.Database.Path = filepath.Join(c.System.DataPath, "pluginhub.db")
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "json"
	}
	if c.System.Logging.BufferSize == 0 {
		c.System.Logging.BufferSize = 1000
	}
	if c.GitHub.Organization == "" {
		c.GitHub.Organization = "Open-WP-Club"
	}
	if c.GitHub.TimeoutSeconds == 0 {
		c.GitHub.TimeoutSeconds = 30
	}
	if c.Manifest.Source == "" {
		c.Manifest.Source = "csv"
	}
	if c.Manifest.CacheTTL == "" {
		c.Manifest.CacheTTL = "24h"
	}
	if c.Platform.PluginsDir == "" {
		c.Platform.PluginsDir = filepath.Join(c.System.DataPath, "plugins")
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Redis.Namespace == "" {
		c.Store.Redis.Namespace = "pluginhub"
	}
	if c.Events.Host == "" {
		c.Events.Host = "127.0.0.1"
	}
	if c.Auth.NonceLifetime == "" {
		c.Auth.NonceLifetime = "24h"
	}
	if c.CLI.User == "" {
		c.CLI.User = "cli"
	}
	if c.CLI.Role == "" {
		c.CLI.Role = "administrator"
	}
}

// secrets returns pointers to every field stored encrypted
func (c *Config) secrets() []*string {
	fields := []*string{&c.GitHub.Token, &c.Store.Redis.Password}
	for i := range c.Auth.Users {
		fields = append(fields, &c.Auth.Users[i].Token)
	}
	return fields
}

// encryptSecrets encrypts sensitive fields
func (c *Config) encryptSecrets() error {
	for _, field := range c.secrets() {
		if *field == "" || strings.HasPrefix(*field, encryptedPrefix) {
			continue
		}
		encrypted, err := encrypt(c.encKey, *field)
		if err != nil {
			return err
		}
		*field = encryptedPrefix + encrypted
	}
	return nil
}

// decryptSecrets decrypts sensitive fields
func (c *Config) decryptSecrets() error {
	for _, field := range c.secrets() {
		if !strings.HasPrefix(*field, encryptedPrefix) {
			continue
		}
		decrypted, err := decrypt(c.encKey, strings.TrimPrefix(*field, encryptedPrefix))
		if err != nil {
			return err
		}
		*field = decrypted
	}
	return nil
}

// getEncryptionKey returns the encryption key from environment or the default
func getEncryptionKey() []byte {
	keyStr := os.Getenv("PLUGINHUB_ENCRYPTION_KEY")
	if keyStr != "" {
		key, err := base64.StdEncoding.DecodeString(keyStr)
		if err == nil && len(key) == 32 {
			return key
		}
	}

	// Must be exactly 32 bytes for AES-256
	return []byte("pluginhub-default-key-change-me!")
}

// encrypt encrypts a string using AES-GCM
func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a string using AES-GCM
func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
