package gravel

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the engine settings read from a configuration file.
// Files are key=value lines (# starts a comment); files with a .yaml or
// .yml suffix are parsed as YAML with the same key names.
type Config struct {
	// ProfFile enables CPU profiling into the given path. Empty disables.
	ProfFile string `yaml:"prof_file"`

	// PrintIOStat prints I/O and cache counters when a command finishes.
	PrintIOStat bool `yaml:"print_io_stat"`

	// NumThreads is the number of worker threads (one per partition).
	NumThreads int `yaml:"num_threads"`

	// NumNodes is the number of NUMA nodes workers are spread across.
	NumNodes int `yaml:"num_nodes"`

	// RowBlockSize is the number of matrix rows grouped into one row block.
	RowBlockSize int `yaml:"row_block_size"`

	// RBIOSize is the number of row blocks read in a single I/O.
	RBIOSize int `yaml:"rb_io_size"`

	// UseHilbertOrder processes 2D matrix blocks along a Hilbert curve.
	UseHilbertOrder bool `yaml:"use_hilbert_order"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		NumThreads:   runtime.NumCPU(),
		NumNodes:     1,
		RowBlockSize: 1024,
		RBIOSize:     8,
	}
}

// LoadConfig reads a configuration file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("gravel: read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("gravel: parse yaml config %s: %w", path, err)
		}
	default:
		sc := bufio.NewScanner(strings.NewReader(string(data)))
		line := 0
		for sc.Scan() {
			line++
			if err := cfg.applyLine(sc.Text()); err != nil {
				return cfg, fmt.Errorf("gravel: config %s line %d: %w", path, line, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyOverrides applies extra key=value pairs, separated by spaces or
// commas, on top of the config. Used for the CLI's -c flag.
func (c *Config) ApplyOverrides(overrides string) error {
	for _, kv := range strings.FieldsFunc(overrides, func(r rune) bool {
		return r == ' ' || r == ','
	}) {
		if err := c.applyLine(kv); err != nil {
			return err
		}
	}
	return c.Validate()
}

func (c *Config) applyLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return fmt.Errorf("%w: expected key=value, got %q", ErrInvalidConfig, line)
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	var err error
	switch key {
	case "prof_file":
		c.ProfFile = value
	case "print_io_stat":
		c.PrintIOStat, err = strconv.ParseBool(value)
	case "num_threads":
		c.NumThreads, err = strconv.Atoi(value)
	case "num_nodes":
		c.NumNodes, err = strconv.Atoi(value)
	case "row_block_size":
		c.RowBlockSize, err = strconv.Atoi(value)
	case "rb_io_size":
		c.RBIOSize, err = strconv.Atoi(value)
	case "use_hilbert_order":
		c.UseHilbertOrder, err = strconv.ParseBool(value)
	default:
		// Unknown keys are tolerated so one file can configure several
		// tools.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: key %s: %v", ErrInvalidConfig, key, err)
	}
	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.NumThreads <= 0 {
		return fmt.Errorf("%w: num_threads must be positive, got %d", ErrInvalidConfig, c.NumThreads)
	}
	if c.NumNodes <= 0 {
		return fmt.Errorf("%w: num_nodes must be positive, got %d", ErrInvalidConfig, c.NumNodes)
	}
	if c.NumNodes > c.NumThreads {
		return fmt.Errorf("%w: num_nodes %d exceeds num_threads %d", ErrInvalidConfig, c.NumNodes, c.NumThreads)
	}
	if c.RowBlockSize <= 0 {
		return fmt.Errorf("%w: row_block_size must be positive, got %d", ErrInvalidConfig, c.RowBlockSize)
	}
	if c.RBIOSize <= 0 {
		return fmt.Errorf("%w: rb_io_size must be positive, got %d", ErrInvalidConfig, c.RBIOSize)
	}
	return nil
}
