package stack

import (
	"context"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
)

var (
	// ErrMissingOutput is returned when a stacking tool exits cleanly without
	// writing its output file
	ErrMissingOutput = errors.New("stacking tool produced no output")

	// ErrNoImages is returned when a directory has no images to stack
	ErrNoImages = errors.New("no images to stack")
)

// imageExts are the extensions of frames passed to stacking tools
var imageExts = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff"}

// Stacker fuses a directory of focus-bracketed images into one image
type Stacker interface {
	// Stack fuses the images in dir and writes out+".png".  It returns the
	// path of the written file.
	Stack(ctx context.Context, dir, out string) (string, error)
}

// StackerFunc adapts a function to the Stacker interface
type StackerFunc func(ctx context.Context, dir, out string) (string, error)

// Stack calls f
func (f StackerFunc) Stack(ctx context.Context, dir, out string) (string, error) {
	return f(ctx, dir, out)
}

// Images returns the sorted image files directly inside dir
func Images(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, x := range imageExts {
			if ext == x {
				out = append(out, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func run(cmd *exec.Cmd) error {
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return errors.Wrapf(err, "%s: %s", filepath.Base(cmd.Path), msg)
	}
	return nil
}

func mustExist(fn string) error {
	if _, err := os.Stat(fn); err != nil {
		return errors.Wrap(ErrMissingOutput, fn)
	}
	return nil
}

// FocusStack runs the open source focus-stack tool
// (https://github.com/PetteriAimonen/focus-stack)
type FocusStack struct {
	// Path is the executable, "focus-stack" if empty
	Path string

	// Args are extra arguments appended to the command line
	Args []string

	// DepthMap also writes out+"_depthmap.png"
	DepthMap bool
}

// Command returns the command that stacks dir into out
func (f FocusStack) Command(ctx context.Context, dir, out string) (*exec.Cmd, error) {
	images, err := Images(dir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, errors.Wrap(ErrNoImages, dir)
	}
	path := f.Path
	if path == "" {
		path = "focus-stack"
	}
	args := append(images,
		"--output="+out+".png",
		"--no-whitebalance",
		"--no-contrast",
		"--nocrop")
	if f.DepthMap {
		args = append(args, "--depthmap="+out+"_depthmap.png")
	}
	args = append(args, f.Args...)
	return exec.CommandContext(ctx, path, args...), nil
}

// Stack satisfies Stacker
func (f FocusStack) Stack(ctx context.Context, dir, out string) (string, error) {
	cmd, err := f.Command(ctx, dir, out)
	if err != nil {
		return "", err
	}
	if err = run(cmd); err != nil {
		return "", err
	}
	fn := out + ".png"
	return fn, mustExist(fn)
}

// Helicon runs Helicon Focus in silent mode.  It writes TIFF, which is
// converted to PNG and removed.
type Helicon struct {
	// Path is the executable
	Path string

	// Args are extra arguments appended to the command line
	Args []string
}

// Command returns the command that stacks dir into out+".tiff"
func (h Helicon) Command(ctx context.Context, dir, out string) *exec.Cmd {
	args := []string{"-silent", dir, "-mp:0", "-rp:4", "-save:" + out + ".tiff"}
	args = append(args, h.Args...)
	return exec.CommandContext(ctx, h.Path, args...)
}

// Stack satisfies Stacker
func (h Helicon) Stack(ctx context.Context, dir, out string) (string, error) {
	images, err := Images(dir)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", errors.Wrap(ErrNoImages, dir)
	}
	if err = run(h.Command(ctx, dir, out)); err != nil {
		return "", err
	}
	tif := out + ".tiff"
	if err = mustExist(tif); err != nil {
		return "", err
	}
	fn := out + ".png"
	if err = ConvertTIFF(tif, fn); err != nil {
		return "", err
	}
	return fn, os.Remove(tif)
}

// ConvertTIFF decodes the TIFF file src and writes it to dst as PNG
func ConvertTIFF(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	img, err := tiff.Decode(in)
	if err != nil {
		return errors.Wrapf(err, "decoding %s", src)
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	err = png.Encode(out, img)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// New returns the stacker named by kind, "focus-stack" or "helicon"
func New(kind, path string, args []string, depthMap bool) (Stacker, error) {
	switch strings.ToLower(kind) {
	case "", "focus-stack", "focusstack":
		return FocusStack{Path: path, Args: args, DepthMap: depthMap}, nil
	case "helicon", "heliconfocus":
		if path == "" {
			return nil, errors.New("helicon stacker needs the path to HeliconFocus")
		}
		return Helicon{Path: path, Args: args}, nil
	default:
		return nil, errors.Errorf("unknown stacker %q", kind)
	}
}
