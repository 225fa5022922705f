package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/microfossil/particle-scanner/config"
	"github.com/microfossil/particle-scanner/marlin"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/scanner"
	"github.com/microfossil/particle-scanner/stack"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "sashimi.yml"
)

func root() {
	str := `sashimi scans trays of particles with a camera on an XYZ stage.  Each zone
of the tray is imaged tile by tile as focus stacks, which are fused into one
sharp image per tile while the scan continues.

Usage:
	sashimi <command>

Commands:
	run        serve the stage, camera and scanner over HTTP
	scan       run a scan of every configured zone from the terminal
	stack dir  fuse every tile of an existing scan directory
	findfloor  sweep Z at the current position for the sharpest height
	home       home the stage and move to the home offset
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `sashimi is amenable to configuration via its .yaml file, sashimi.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html

mkconf writes the defaults merged with any existing file; conf prints them.

Serial.Mock and Camera.Mock replace the printer and the camera with
simulations, useful to try a configuration without hardware.

Zones are stored in Scanner.Zones.  They may be edited by hand while the
server runs; the file is watched and zones not yet scanned are updated.

The scan directory is SaveDir/ScanName.  It contains one ZoneNNN directory per
zone, in which each tile is a directory named by its stage position and the
fused images are in ZoneNNN/stacked.`
	fmt.Println(str)
}

func loadconfig() config.Config {
	c, err := config.Read(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return c
}

func mkconf() {
	if err := config.Write(ConfigFileName, loadconfig()); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	err := yml.NewEncoder(os.Stdout).Encode(loadconfig())
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("sashimi version %v\n", Version)
}

func spinner(suffix string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + suffix,
		SuffixAutoColon:   true,
		Colors:            []string{"fgCyan"},
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

// home homes the stage and sends it to the home offset
func home(rig *Rig, c config.Config) {
	switch s := rig.Stage.(type) {
	case *marlin.Stage:
		if err := marlin.HomeAndOffset(s, c.HomeOffset); err != nil {
			log.Fatal(err)
		}
	case *motion.Sim:
		s.Home()
		s.GoTo(c.HomeOffset)
	}
}

func run() {
	st, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	if err := st.Watch(); err != nil {
		log.Printf("not watching %s for changes %v\n", ConfigFileName, err)
	}
	c := st.Get()
	rig, err := BuildRig(c)
	if err != nil {
		log.Fatal(err)
	}
	defer rig.Close()
	rig.Scanner.Follow(st)
	home(rig, c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	mux := BuildMux(ctx, rig, st)
	srv := &http.Server{Addr: c.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	log.Println("now listening for requests at ", c.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func scancmd() {
	c := loadconfig()
	rig, err := BuildRig(c)
	if err != nil {
		log.Fatal(err)
	}
	defer rig.Close()
	home(rig, c)

	// ctrl+c stops the scan cleanly, the summary is still written
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spin := spinner("scanning")
	rig.Scanner.OnProgress = func(p scanner.Progress) {
		spin.Message(fmt.Sprintf("zone %d/%d tile %d/%d, %s/%s pictures, %s left",
			p.Zone, p.Zones, p.Tile, p.Tiles,
			humanize.Comma(int64(p.Pictures)), humanize.Comma(int64(p.TotalPictures)),
			p.ETA.Round(time.Second)))
	}
	spin.Start()
	res, err := rig.Scanner.MultiScan(ctx)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		os.Exit(1)
	}
	if res.Interrupted {
		spin.StopFailMessage("interrupted")
		spin.StopFail()
	} else {
		spin.StopMessage("done")
		spin.Stop()
	}
	color.Cyan("%s pictures in %s, written to %s\n",
		humanize.Comma(int64(res.Pictures)), res.Ended.Sub(res.Started).Round(time.Second), res.Dir)
	if res.Stack.Failed > 0 {
		color.Red("%d stacks failed, see %s\n", res.Stack.Failed, scanner.ErrorLogFileName)
	}
}

func stackdir(dir string) {
	c := loadconfig()
	stk, err := stack.New(c.Stacker.Kind, c.Stacker.Path, c.Stacker.Args, c.Stacker.DepthMap)
	if err != nil {
		log.Fatal(err)
	}
	jobs, err := stack.Walk(dir)
	if err != nil {
		log.Fatal(err)
	}
	if len(jobs) == 0 {
		color.Yellow("no tiles found in %s\n", dir)
		return
	}
	errLog, closer, err := stack.OpenErrorLog(dir + string(os.PathSeparator) + scanner.ErrorLogFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spin := spinner("stacking")
	q := stack.NewQueue(stk, c.Scanner.RemoveRaw, errLog)
	done := 0
	q.OnResult = func(r stack.Result) {
		done++
		spin.Message(fmt.Sprintf("%d/%d %s", done, len(jobs), r.Job.Name()))
	}
	if err := q.Start(ctx); err != nil {
		log.Fatal(err)
	}
	spin.Start()
	for _, j := range jobs {
		if err := q.Enqueue(j); err != nil {
			log.Fatal(err)
		}
	}
	q.Close()
	stats := q.Stats()
	if stats.Failed > 0 || stats.Dropped > 0 {
		spin.StopFailMessage(fmt.Sprintf("%d stacked, %d failed, %d dropped", stats.Processed, stats.Failed, stats.Dropped))
		spin.StopFail()
		return
	}
	spin.StopMessage(fmt.Sprintf("%d stacked", stats.Processed))
	spin.Stop()
}

func findfloor() {
	c := loadconfig()
	rig, err := BuildRig(c)
	if err != nil {
		log.Fatal(err)
	}
	defer rig.Close()
	spin := spinner("sweeping")
	spin.Start()
	fl, err := rig.Scanner.FindFloor(context.Background())
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		os.Exit(1)
	}
	spin.Stop()
	color.Green("sharpest at z=%d (r=%d g=%d b=%d)\n", fl.Best(), fl.Z[0], fl.Z[1], fl.Z[2])
}

func homecmd() {
	c := loadconfig()
	rig, err := BuildRig(c)
	if err != nil {
		log.Fatal(err)
	}
	defer rig.Close()
	home(rig, c)
	color.Green("homed, at %v\n", c.HomeOffset)
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "scan":
		scancmd()
	case "stack":
		if len(args) < 3 {
			log.Fatal("usage: sashimi stack <scan directory>")
		}
		stackdir(args[2])
	case "findfloor":
		findfloor()
	case "home":
		homecmd()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
