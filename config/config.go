// Package config holds the scan configuration document and a store which
// loads it before a run and persists every edit.
package config

import (
	"path/filepath"
	"time"

	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/zone"
)

// Limits on the focus bracket, in microns
const (
	MinStackHeight  = 100
	MaxStackHeight  = 10000
	StackHeightIncr = 100

	MinStackStep  = 20
	MaxStackStep  = 200
	StackStepIncr = 20
)

// Serial describes the stage's serial link
type Serial struct {
	// Port is e.g. /dev/ttyUSB0 or COM3
	Port string `koanf:"Port" yaml:"Port"`

	Baud int `koanf:"Baud" yaml:"Baud"`

	// Mock uses a simulated stage instead of the serial port
	Mock bool `koanf:"Mock" yaml:"Mock"`
}

// Camera describes the camera
type Camera struct {
	// Addr is the root URL of a remote camera, if not Mock
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock uses a simulated camera
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// ExposureUs is the exposure used outside of bracketing, in microseconds
	ExposureUs int `koanf:"ExposureUs" yaml:"ExposureUs"`

	Gain float64 `koanf:"Gain" yaml:"Gain"`

	// FramePeriod is the time between frames in milliseconds.  Every wait is
	// sliced into frame periods.
	FramePeriod int `koanf:"FramePeriod" yaml:"FramePeriod"`

	// Width and Height are the frame size of the simulated camera
	Width  int `koanf:"Width" yaml:"Width"`
	Height int `koanf:"Height" yaml:"Height"`
}

// Optics describes the footprint of one tile on the specimen
type Optics struct {
	// FieldOfViewX, FieldOfViewY are the size of the imaged area, in microns
	FieldOfViewX int `koanf:"FieldOfViewX" yaml:"FieldOfViewX"`
	FieldOfViewY int `koanf:"FieldOfViewY" yaml:"FieldOfViewY"`

	// OverlapX, OverlapY are the fraction of a tile shared with its neighbor
	OverlapX float64 `koanf:"OverlapX" yaml:"OverlapX"`
	OverlapY float64 `koanf:"OverlapY" yaml:"OverlapY"`
}

// FindFloor describes the focus sweep used to find a zone's height
type FindFloor struct {
	// Start is the Z the sweep begins at, in microns
	Start int `koanf:"Start" yaml:"Start"`

	// Step is the Z increment, in microns
	Step int `koanf:"Step" yaml:"Step"`

	// Count is the number of samples
	Count int `koanf:"Count" yaml:"Count"`
}

// Scanner is the scan configuration proper
type Scanner struct {
	Zones []zone.Zone `koanf:"Zones" yaml:"Zones"`

	// Exposures are the bracket exposures in microseconds.  Zero or one
	// exposure means no bracketing.
	Exposures []int `koanf:"Exposures" yaml:"Exposures"`

	// StackHeight is the Z extent of a focus stack, in microns
	StackHeight int `koanf:"StackHeight" yaml:"StackHeight"`

	// StackStep is the Z distance between layers, in microns
	StackStep int `koanf:"StackStep" yaml:"StackStep"`

	// ZMargin is subtracted from every computed start height, in microns
	ZMargin int `koanf:"ZMargin" yaml:"ZMargin"`

	// LowestZ starts every stack at the zone's lowest corner instead of
	// following its tilt
	LowestZ bool `koanf:"LowestZ" yaml:"LowestZ"`

	// RemoveRaw deletes raw images once stacked
	RemoveRaw bool `koanf:"RemoveRaw" yaml:"RemoveRaw"`

	// AutoStack stacks tiles while the scan runs
	AutoStack bool `koanf:"AutoStack" yaml:"AutoStack"`

	// ImageFormat is jpg, png or fits
	ImageFormat string `koanf:"ImageFormat" yaml:"ImageFormat"`

	JPEGQuality int `koanf:"JPEGQuality" yaml:"JPEGQuality"`

	// MoveTimeout bounds the wait for a Z move within a stack, milliseconds
	MoveTimeout int `koanf:"MoveTimeout" yaml:"MoveTimeout"`

	// TileTimeout bounds the wait for the XY move to a tile or zone, milliseconds
	TileTimeout int `koanf:"TileTimeout" yaml:"TileTimeout"`

	// ExposureTimeout bounds the wait for a new exposure to show up, milliseconds
	ExposureTimeout int `koanf:"ExposureTimeout" yaml:"ExposureTimeout"`

	// MinFreeBytes is the free space required on the save disk to start a scan
	MinFreeBytes uint64 `koanf:"MinFreeBytes" yaml:"MinFreeBytes"`

	FindFloor FindFloor `koanf:"FindFloor" yaml:"FindFloor"`
}

// Stacker selects the focus stacking tool
type Stacker struct {
	// Kind is focus-stack or helicon
	Kind string `koanf:"Kind" yaml:"Kind"`

	// Path is the executable
	Path string `koanf:"Path" yaml:"Path"`

	// Args are extra command line arguments
	Args []string `koanf:"Args" yaml:"Args"`

	// DepthMap also writes a depth map, focus-stack only
	DepthMap bool `koanf:"DepthMap" yaml:"DepthMap"`
}

// Config is the whole configuration document
type Config struct {
	// Addr is the address the HTTP server listens at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// SaveDir is the parent of every scan directory
	SaveDir string `koanf:"SaveDir" yaml:"SaveDir"`

	// ScanName is the name of the scan directory inside SaveDir
	ScanName string `koanf:"ScanName" yaml:"ScanName"`

	// Overwrite allows a scan to replace an existing scan directory
	Overwrite bool `koanf:"Overwrite" yaml:"Overwrite"`

	// Journal is the path to the SQLite run journal, empty to disable
	Journal string `koanf:"Journal" yaml:"Journal"`

	Serial  Serial  `koanf:"Serial" yaml:"Serial"`
	Camera  Camera  `koanf:"Camera" yaml:"Camera"`
	Optics  Optics  `koanf:"Optics" yaml:"Optics"`
	Scanner Scanner `koanf:"Scanner" yaml:"Scanner"`
	Stacker Stacker `koanf:"Stacker" yaml:"Stacker"`

	// HomeOffset is where the stage goes after homing
	HomeOffset zone.Point `koanf:"HomeOffset" yaml:"HomeOffset"`

	// Limits are the stage soft limits
	Limits motion.Limits `koanf:"Limits" yaml:"Limits"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Addr:     ":8000",
		SaveDir:  "scans",
		ScanName: "scan",
		Journal:  "sashimi.db",
		Serial:   Serial{Port: "/dev/ttyUSB0", Baud: 115200},
		Camera: Camera{
			ExposureUs:  5000,
			Gain:        1,
			FramePeriod: 30,
			Width:       640,
			Height:      480},
		Optics: Optics{
			FieldOfViewX: 2000,
			FieldOfViewY: 1500,
			OverlapX:     0.15,
			OverlapY:     0.2},
		Scanner: Scanner{
			StackHeight:     500,
			StackStep:       60,
			ZMargin:         200,
			AutoStack:       true,
			ImageFormat:     "jpg",
			JPEGQuality:     90,
			MoveTimeout:     2000,
			TileTimeout:     20000,
			ExposureTimeout: 300,
			MinFreeBytes:    1 << 30,
			FindFloor:       FindFloor{Start: 100, Step: 20, Count: 100}},
		Stacker:    Stacker{Kind: "focus-stack"},
		HomeOffset: zone.Point{X: 10000, Y: 50000, Z: 2000},
		Limits:     motion.DefaultLimits,
	}
}

// Pitch is the tile pitch
func (c Config) Pitch() zone.Pitch {
	o := c.Optics
	return zone.PitchFromFieldOfView(o.FieldOfViewX, o.FieldOfViewY, o.OverlapX, o.OverlapY)
}

// ScanDir is the directory this configuration's scan is written to
func (c Config) ScanDir() string {
	return filepath.Join(c.SaveDir, c.ScanName)
}

// FramePeriod is the camera frame period, at least one millisecond
func (c Config) FramePeriod() time.Duration {
	if c.Camera.FramePeriod <= 0 {
		return time.Millisecond
	}
	return time.Duration(c.Camera.FramePeriod) * time.Millisecond
}

// Clone returns a deep copy of c
func (c Config) Clone() Config {
	out := c
	out.Scanner.Zones = append([]zone.Zone(nil), c.Scanner.Zones...)
	out.Scanner.Exposures = append([]int(nil), c.Scanner.Exposures...)
	out.Stacker.Args = append([]string(nil), c.Stacker.Args...)
	return out
}

// Ms converts a millisecond setting to a duration
func Ms(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
