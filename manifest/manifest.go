// Package manifest handles mote.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "mote.toml"

var log = commonlog.GetLogger("mote.manifest")

// Manifest represents a mote.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project" json:"project"`
	Compiler CompilerConfig `toml:"compiler" json:"compiler"`
	VM       VMConfig       `toml:"vm" json:"vm"`
	Server   ServerConfig   `toml:"server" json:"server"`
	History  HistoryConfig  `toml:"history" json:"history"`

	// Dir is the directory containing the mote.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name" json:"name"`
	Entry string `toml:"entry" json:"entry"`
}

// CompilerConfig configures the compiler.
type CompilerConfig struct {
	MaxNesting  int  `toml:"max-nesting" json:"max-nesting"`
	Disassemble bool `toml:"disassemble" json:"disassemble"`
}

// VMConfig configures the virtual machine.
type VMConfig struct {
	Trace bool `toml:"trace" json:"trace"`
}

// ServerConfig configures the evaluation server.
type ServerConfig struct {
	Port     int `toml:"port" json:"port"`
	GRPCPort int `toml:"grpc-port" json:"grpc-port"`
}

// HistoryConfig configures the REPL history store.
type HistoryConfig struct {
	Path    string `toml:"path" json:"path"`
	Enabled bool   `toml:"enabled" json:"enabled"`
}

// Default values.
const (
	DefaultMaxNesting  = 256
	DefaultPort        = 4567
	DefaultGRPCPort    = 4568
	DefaultHistoryPath = ".mote/history.db"
)

// Default returns the configuration used when no mote.toml exists.
func Default() *Manifest {
	m := &Manifest{History: HistoryConfig{Enabled: true}}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Compiler.MaxNesting == 0 {
		m.Compiler.MaxNesting = DefaultMaxNesting
	}
	if m.Server.Port == 0 {
		m.Server.Port = DefaultPort
	}
	if m.Server.GRPCPort == 0 {
		m.Server.GRPCPort = DefaultGRPCPort
	}
	if m.History.Path == "" {
		m.History.Path = DefaultHistoryPath
	}
}

// Load parses and validates a mote.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	// Decoding over a pre-filled struct keeps defaults for absent booleans.
	m := &Manifest{History: HistoryConfig{Enabled: true}}
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		log.Warningf("%s: ignoring unknown keys: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	log.Debugf("loaded manifest %s", path)
	return m, nil
}

// FindAndLoad walks up from startDir to find a mote.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the entry script, or "" when none
// is configured.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	return m.resolve(m.Project.Entry)
}

// HistoryPath returns the absolute path of the history database.
func (m *Manifest) HistoryPath() string {
	return m.resolve(m.History.Path)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
