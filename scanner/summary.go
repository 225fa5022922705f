package scanner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/microfossil/particle-scanner/config"
	"github.com/microfossil/particle-scanner/imgrec"
	"github.com/microfossil/particle-scanner/util"
)

// InterruptedBanner marks the summary of a run which did not finish
const InterruptedBanner = "///////////THE SCAN WAS INTERRUPTED BEFORE FINISHING!!!///////////"

const summaryTime = "2006-01-02 15:04:05"

func hms(d time.Duration) string {
	h, m, s := util.HMS(d)
	return fmt.Sprintf("%dh %dmin %ds", h, m, s)
}

// WriteSummary writes the human readable summary of a run to path.  It
// refuses to overwrite an existing file.
func WriteSummary(path string, c config.Config, r Result) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	FormatSummary(bw, c, r)
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FormatSummary writes the summary of a run to w
func FormatSummary(w io.Writer, c config.Config, r Result) {
	p := c.Pitch()
	fmt.Fprintln(w, "This is the summary of this multi-zone scan. Here are some parameters :")
	fmt.Fprintf(w, "save_dir = %s\n", r.Dir)
	fmt.Fprintf(w, "auto_stack = %v\n", c.Scanner.AutoStack)
	fmt.Fprintf(w, "remove_raw = %v\n", c.Scanner.RemoveRaw)
	fmt.Fprintf(w, "lowest_z = %v\n", c.Scanner.LowestZ)
	fmt.Fprintf(w, "exposures (µs) = %s\n", util.IntSliceToCSV(BracketExposures(c)))
	fmt.Fprintf(w, "stack height (µm) = %d\n", c.Scanner.StackHeight)
	fmt.Fprintf(w, "stack step (µm) = %d\n", c.Scanner.StackStep)
	fmt.Fprintf(w, "z margin (µm) = %d\n", c.Scanner.ZMargin)
	fmt.Fprintf(w, "XY step (µm) = %d, %d\n", p.X, p.Y)
	fmt.Fprintf(w, "image format = %s\n", c.Scanner.ImageFormat)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Here are statistics about the zones.")
	for _, z := range r.Zones {
		name := imgrec.ZoneDirName(z.Index)
		if z.Tiles == 0 {
			fmt.Fprintf(w, "%s was skipped: %v\n", name, z.Err)
			continue
		}
		fmt.Fprintf(w, "%s started at %s, lasted %s and took :\n",
			name, z.Start.Format(summaryTime), hms(z.Duration))
		fmt.Fprintf(w, "%d stacks x %d exposures x %d heights = %s pictures.\n",
			z.Tiles, z.Exposures, z.Layers, humanize.Comma(int64(z.Planned())))
		if !z.Done {
			fmt.Fprintf(w, "%s was interrupted after %s pictures.\n", name, humanize.Comma(int64(z.Pictures)))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Overall, the run ended at %s and lasted %s.\n",
		r.Ended.Format(summaryTime), hms(r.Ended.Sub(r.Started)))
	fmt.Fprintf(w, "%s of %s pictures were taken, %s on disk.\n",
		humanize.Comma(int64(r.Pictures)), humanize.Comma(int64(r.TotalPictures)), humanize.Bytes(dirSize(r.Dir)))
	if c.Scanner.AutoStack {
		fmt.Fprintf(w, "%d stacks were made, %d failed and %d were dropped.\n",
			r.Stack.Processed, r.Stack.Failed, r.Stack.Dropped)
	}
	if r.Interrupted {
		fmt.Fprintln(w)
		fmt.Fprintln(w, InterruptedBanner)
		if n := len(r.Zones); n > 0 {
			fmt.Fprintf(w, "The scan stopped during %s.\n", imgrec.ZoneDirName(r.Zones[n-1].Index))
		}
	}
}

func dirSize(dir string) uint64 {
	var n uint64
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n += uint64(info.Size())
		}
		return nil
	})
	return n
}
