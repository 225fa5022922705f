package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/microfossil/particle-scanner/util"
	"github.com/microfossil/particle-scanner/zone"
	"github.com/pkg/errors"

	yml "gopkg.in/yaml.v2"
)

// ErrNoSuchZone is returned for a zone index out of range
var ErrNoSuchZone = errors.New("no such zone")

// Corner names a settable corner of a zone
type Corner int

const (
	// FrontLeft is the corner a zone's scan starts at
	FrontLeft Corner = iota

	// BackRight is the opposite corner
	BackRight
)

// NewZone is the zone added when the operator asks for a new one; its
// corners are expected to be moved right after
var NewZone = zone.Zone{
	FL:        zone.Point{X: 10000, Y: 50000, Z: 2000},
	BR:        zone.Point{X: 11000, Y: 51000, Z: 2000},
	BackLeftZ: 2000,
}

// Read loads the configuration at path over the defaults.  A missing file
// is not an error.
func Read(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return Config{}, errors.Wrapf(err, "loading %s", path)
		}
	}
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Write encodes c as YAML to path
func Write(path string, c Config) error {
	b, err := yml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, 0777); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, b, 0666); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Store holds the configuration for the process.  Every setter validates,
// applies and persists the change.
type Store struct {
	// Path is the file the configuration is persisted to; if empty edits are
	// only held in memory
	Path string

	mu        sync.Mutex
	cfg       Config
	listeners []func(Config)
}

// NewStore returns a store holding c
func NewStore(path string, c Config) *Store {
	return &Store{Path: path, cfg: c.Clone()}
}

// Load returns a store with the configuration read from path
func Load(path string) (*Store, error) {
	c, err := Read(path)
	if err != nil {
		return nil, err
	}
	return NewStore(path, c), nil
}

// Get returns a copy of the configuration
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// Subscribe registers f to be called with the new configuration after
// every change
func (s *Store) Subscribe(f func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, f)
}

// Save persists the configuration
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Store) save() error {
	if s.Path == "" {
		return nil
	}
	return errors.Wrap(Write(s.Path, s.cfg), "saving configuration")
}

// Update applies f to a copy of the configuration.  If f returns nil the
// copy replaces the configuration and is persisted, otherwise nothing changes.
func (s *Store) Update(f func(*Config) error) error {
	s.mu.Lock()
	c := s.cfg.Clone()
	if err := f(&c); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = c
	err := s.save()
	listeners := append([]func(Config){}, s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(c.Clone())
	}
	return err
}

// Watch reloads the file whenever it changes on disk and hands the new
// configuration to the listeners
func (s *Store) Watch() error {
	if s.Path == "" {
		return errors.New("configuration has no file to watch")
	}
	return file.Provider(s.Path).Watch(func(event interface{}, err error) {
		if err != nil {
			log.Printf("config watch error %v\n", err)
			return
		}
		c, err := Read(s.Path)
		if err != nil {
			log.Printf("config reload failed, keeping the old one %v\n", err)
			return
		}
		s.mu.Lock()
		s.cfg = c
		listeners := append([]func(Config){}, s.listeners...)
		s.mu.Unlock()
		log.Println("configuration reloaded from", s.Path)
		for _, l := range listeners {
			l(c.Clone())
		}
	})
}

func zoneAt(c *Config, i int) (*zone.Zone, error) {
	if i < 0 || i >= len(c.Scanner.Zones) {
		return nil, errors.Wrapf(ErrNoSuchZone, "index %d of %d", i, len(c.Scanner.Zones))
	}
	return &c.Scanner.Zones[i], nil
}

// AddZone appends NewZone and returns its index
func (s *Store) AddZone() (int, error) {
	var idx int
	err := s.Update(func(c *Config) error {
		c.Scanner.Zones = append(c.Scanner.Zones, NewZone)
		idx = len(c.Scanner.Zones) - 1
		return nil
	})
	return idx, err
}

// PutZone appends z, which must be valid, and returns its index
func (s *Store) PutZone(z zone.Zone) (int, error) {
	if err := z.UpdateCorrections(); err != nil {
		return 0, err
	}
	if err := z.Validate(); err != nil {
		return 0, err
	}
	var idx int
	err := s.Update(func(c *Config) error {
		c.Scanner.Zones = append(c.Scanner.Zones, z)
		idx = len(c.Scanner.Zones) - 1
		return nil
	})
	return idx, err
}

// DeleteZone removes zone i
func (s *Store) DeleteZone(i int) error {
	return s.Update(func(c *Config) error {
		if _, err := zoneAt(c, i); err != nil {
			return err
		}
		c.Scanner.Zones = append(c.Scanner.Zones[:i], c.Scanner.Zones[i+1:]...)
		return nil
	})
}

// DeleteAllZones removes every zone
func (s *Store) DeleteAllZones() error {
	return s.Update(func(c *Config) error {
		c.Scanner.Zones = nil
		return nil
	})
}

// SetCorner moves a corner of zone i to p and recomputes its corrections.
// A move that would leave the zone degenerate or inverted is refused.
func (s *Store) SetCorner(i int, which Corner, p zone.Point) error {
	return s.Update(func(c *Config) error {
		z, err := zoneAt(c, i)
		if err != nil {
			return err
		}
		next := *z
		switch which {
		case FrontLeft:
			next.FL = p
		case BackRight:
			next.BR = p
		default:
			return errors.Errorf("unknown corner %d", which)
		}
		if err = next.Validate(); err != nil {
			return err
		}
		if err = next.UpdateCorrections(); err != nil {
			return err
		}
		*z = next
		return nil
	})
}

// SetBackLeftZ sets the back-left height of zone i
func (s *Store) SetBackLeftZ(i, blz int) error {
	return s.Update(func(c *Config) error {
		z, err := zoneAt(c, i)
		if err != nil {
			return err
		}
		return z.SetBackLeftZ(blz)
	})
}

func roundTo(v, incr int) int {
	return (v + incr/2) / incr * incr
}

// SetStackHeight sets the stack height, clamped to its limits and rounded to
// its increment, and returns the value used
func (s *Store) SetStackHeight(h int) (int, error) {
	h = util.Clamp(roundTo(h, StackHeightIncr), MinStackHeight, MaxStackHeight)
	return h, s.Update(func(c *Config) error {
		c.Scanner.StackHeight = h
		return nil
	})
}

// SetStackStep sets the stack step, clamped to its limits and rounded to
// its increment, and returns the value used
func (s *Store) SetStackStep(st int) (int, error) {
	st = util.Clamp(roundTo(st, StackStepIncr), MinStackStep, MaxStackStep)
	return st, s.Update(func(c *Config) error {
		c.Scanner.StackStep = st
		return nil
	})
}

// SetExposures sets the bracket exposures.  Exposures must be positive.
func (s *Store) SetExposures(us []int) error {
	for _, e := range us {
		if e <= 0 {
			return errors.Errorf("exposure must be positive, got %d", e)
		}
	}
	return s.Update(func(c *Config) error {
		c.Scanner.Exposures = append([]int(nil), us...)
		return nil
	})
}

// SetLowestZ selects the lowest-corner start height policy
func (s *Store) SetLowestZ(b bool) error {
	return s.Update(func(c *Config) error {
		c.Scanner.LowestZ = b
		return nil
	})
}
