// Package profile loads and caches the declarative device profiles (C2)
// that the simulation engine turns into waveform-driven memory writes.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/icsguard/honeypot/waveform"
)

// ErrNotFound is returned by Info/GetModbus/GetS7 for an unknown name.
var ErrNotFound = errors.New("profile: not found")

// RegisterType is the Modbus register encoding for one entry.
type RegisterType string

const (
	Int16      RegisterType = "int16"
	Float32Reg RegisterType = "float32"
	StringReg  RegisterType = "string"
)

// S7Type is the S7 scalar encoding for one DB/M/I/Q entry.
type S7Type string

const (
	S7Int   S7Type = "INT"
	S7Word  S7Type = "WORD"
	S7DInt  S7Type = "DINT"
	S7DWord S7Type = "DWORD"
	S7Real  S7Type = "REAL"
	S7Byte  S7Type = "BYTE"
)

// ModbusEntry is one (address, waveform) pair in a Modbus section.
type ModbusEntry struct {
	Address     uint16        `json:"address"`
	Type        RegisterType  `json:"type,omitempty"`
	Length      int           `json:"length,omitempty"`       // string entries: register count
	StringValue string        `json:"string_value,omitempty"` // string entries: content to encode
	Waveform    waveform.Spec `json:"waveform"`
}

// ModbusSection holds the four Modbus data tables of a profile.
type ModbusSection struct {
	HoldingRegisters []ModbusEntry `json:"holding_registers,omitempty"`
	InputRegisters   []ModbusEntry `json:"input_registers,omitempty"`
	Coils            []ModbusEntry `json:"coils,omitempty"`
	DiscreteInputs   []ModbusEntry `json:"discrete_inputs,omitempty"`
}

// S7Entry is one (offset, waveform) pair in an S7 DB/M/I/Q table.
type S7Entry struct {
	Type     S7Type        `json:"type,omitempty"`
	Waveform waveform.Spec `json:"waveform"`
}

// S7Section holds the DB map and the M/I/Q tables of a profile.
type S7Section struct {
	DB map[uint16]map[uint32]S7Entry `json:"db,omitempty"`
	M  map[uint32]S7Entry            `json:"m,omitempty"`
	I  map[uint32]S7Entry            `json:"i,omitempty"`
	Q  map[uint32]S7Entry            `json:"q,omitempty"`
}

// Profile is a named declarative description of an emulated device.
type Profile struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	Author      string         `json:"author"`
	PostHook    string         `json:"post_hook,omitempty"`
	Modbus      *ModbusSection `json:"modbus,omitempty"`
	S7          *S7Section     `json:"s7,omitempty"`
}

// Store loads profiles by logical name from a directory, falling back to
// the bundled defaults (DefaultProfileName and friends) when a name
// isn't found on disk. Each profile is parsed once and cached; Reload
// clears the cache.
type Store struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Profile
}

// NewStore returns a store reading *.json profiles from dir. dir may not
// exist yet (e.g. in tests); lookups simply fall through to bundled
// defaults or ErrNotFound.
func NewStore(dir string) *Store {
	return &Store{dir: dir, cache: make(map[string]*Profile)}
}

// List returns the logical names of every profile visible to the store:
// the on-disk directory's *.json files plus any bundled default not
// shadowed by one.
func (s *Store) List() []string {
	seen := make(map[string]bool)
	var names []string

	entries, _ := os.ReadDir(s.dir)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range bundledDefaults {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Info returns the full parsed profile for name.
func (s *Store) Info(name string) (*Profile, error) {
	s.mu.RLock()
	if p, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	p, err := s.load(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[name] = p
	s.mu.Unlock()
	return p, nil
}

// GetModbus returns just the Modbus section of a profile (nil if absent).
func (s *Store) GetModbus(name string) (*ModbusSection, error) {
	p, err := s.Info(name)
	if err != nil {
		return nil, err
	}
	return p.Modbus, nil
}

// GetS7 returns just the S7 section of a profile (nil if absent).
func (s *Store) GetS7(name string) (*S7Section, error) {
	p, err := s.Info(name)
	if err != nil {
		return nil, err
	}
	return p.S7, nil
}

// Reload clears the in-memory cache; the next Info call re-reads from
// disk (or the bundled default).
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*Profile)
}

func (s *Store) load(name string) (*Profile, error) {
	path := filepath.Join(s.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if raw, ok := bundledDefaults[name]; ok {
			data = raw
		} else {
			return nil, ErrNotFound
		}
	}

	var p Profile
	if jsonErr := json.Unmarshal(data, &p); jsonErr != nil {
		return nil, fmt.Errorf("profile: parse %s: %w", name, jsonErr)
	}
	return &p, nil
}
