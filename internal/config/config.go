// Package config loads the player configuration from an optional YAML file and command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// Output backends.
const (
	OutputBeep = "beep"
	OutputMPD  = "mpd"
	OutputNull = "null"
)

// Track list orderings.
const (
	OrderAsIs       = "as_is"
	OrderPopularity = "popularity"
)

// Config is the full player configuration.
type Config struct {
	Port        string        `yaml:"port"`
	Debug       bool          `yaml:"debug"`
	Static      string        `yaml:"static"`
	DataDir     string        `yaml:"data_dir"`
	DBPath      string        `yaml:"db_path"` // defaults to <data_dir>/stellar.db
	Index       IndexConfig   `yaml:"index"`
	Output      string        `yaml:"output"`
	MPD         MPDConfig     `yaml:"mpd"`
	Preload     PreloadConfig `yaml:"preload"`
	Netmon      NetmonConfig  `yaml:"netmon"`
	Broadcast   BroadcastConf `yaml:"broadcast"`
	ShellAssets []string      `yaml:"shell_assets"`
	MediaHost   string        `yaml:"media_host"` // every locator on this host goes to the media partition
}

// IndexConfig locates the remote track index.
type IndexConfig struct {
	URL    string             `yaml:"url"`
	Tracks []music.Descriptor `yaml:"tracks"` // inline list used when url is empty
	Order  string             `yaml:"order"`
}

// MPDConfig addresses the MPD daemon for output: mpd.
type MPDConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

// PreloadConfig bounds the duration probe pass.
type PreloadConfig struct {
	Timeout time.Duration `yaml:"timeout"` // per track; 0 disables the pass
}

// NetmonConfig tunes the connectivity monitor.
type NetmonConfig struct {
	Interval time.Duration `yaml:"interval"`
	ProbeURL string        `yaml:"probe_url"`
}

// BroadcastConf tunes Socket.io pushes.
type BroadcastConf struct {
	Window             time.Duration `yaml:"window"`
	MaxExternalClients int           `yaml:"max_external_clients"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:    "3001",
		DataDir: "data",
		Output:  OutputBeep,
		Index:   IndexConfig{Order: OrderAsIs},
		MPD: MPDConfig{
			Host: "localhost",
			Port: 6600,
		},
		Preload: PreloadConfig{Timeout: 10 * time.Second},
		Netmon:  NetmonConfig{Interval: 10 * time.Second},
		Broadcast: BroadcastConf{
			Window:             100 * time.Millisecond,
			MaxExternalClients: 4,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads the command line. Flags given explicitly override the file named by -config.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("stellar-player", flag.ContinueOnError)

	def := Default()
	path := fs.String("config", "", "YAML config file (optional)")
	port := fs.String("port", def.Port, "HTTP server port")
	debug := fs.Bool("debug", def.Debug, "Enable debug logging")
	static := fs.String("static", def.Static, "Directory to serve static files from (optional)")
	dataDir := fs.String("data-dir", def.DataDir, "Directory for the database, cached assets and history")
	dbPath := fs.String("db", def.DBPath, "SQLite database path (default <data-dir>/stellar.db)")
	indexURL := fs.String("index-url", def.Index.URL, "Remote track index URL")
	order := fs.String("order", def.Index.Order, "Track order: as_is or popularity")
	output := fs.String("output", def.Output, "Playback output: beep, mpd or null")
	mpdHost := fs.String("mpd-host", def.MPD.Host, "MPD host")
	mpdPort := fs.Int("mpd-port", def.MPD.Port, "MPD port")
	mpdPassword := fs.String("mpd-password", def.MPD.Password, "MPD password")
	preload := fs.Duration("preload-timeout", def.Preload.Timeout, "Per-track duration probe timeout (0 disables)")
	netInterval := fs.Duration("netmon-interval", def.Netmon.Interval, "Connectivity poll interval")
	probeURL := fs.String("probe-url", def.Netmon.ProbeURL, "URL probed to confirm connectivity (optional)")
	window := fs.Duration("broadcast-window", def.Broadcast.Window, "Debounce window for state pushes")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg, err := Load(*path)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "debug":
			cfg.Debug = *debug
		case "static":
			cfg.Static = *static
		case "data-dir":
			cfg.DataDir = *dataDir
		case "db":
			cfg.DBPath = *dbPath
		case "index-url":
			cfg.Index.URL = *indexURL
		case "order":
			cfg.Index.Order = *order
		case "output":
			cfg.Output = *output
		case "mpd-host":
			cfg.MPD.Host = *mpdHost
		case "mpd-port":
			cfg.MPD.Port = *mpdPort
		case "mpd-password":
			cfg.MPD.Password = *mpdPassword
		case "preload-timeout":
			cfg.Preload.Timeout = *preload
		case "netmon-interval":
			cfg.Netmon.Interval = *netInterval
		case "probe-url":
			cfg.Netmon.ProbeURL = *probeURL
		case "broadcast-window":
			cfg.Broadcast.Window = *window
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks enumerations and fills derived paths.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	switch c.Output {
	case OutputBeep, OutputMPD, OutputNull:
	default:
		errs = append(errs, fmt.Errorf("unknown output %q", c.Output))
	}
	switch c.Index.Order {
	case "":
		c.Index.Order = OrderAsIs
	case OrderAsIs, OrderPopularity:
	default:
		errs = append(errs, fmt.Errorf("unknown order %q", c.Index.Order))
	}
	if c.Output == OutputMPD && (c.MPD.Port <= 0 || c.MPD.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid mpd port %d", c.MPD.Port))
	}
	if c.Preload.Timeout < 0 {
		errs = append(errs, errors.New("preload timeout must not be negative"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "stellar.db")
	}
	return nil
}

// AssetDir is where cached asset bytes live.
func (c Config) AssetDir() string {
	return filepath.Join(c.DataDir, "assets")
}
