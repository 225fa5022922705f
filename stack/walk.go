package stack

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var (
	zoneDirRe = regexp.MustCompile(`^Zone\d{3}$`)
	tileDirRe = regexp.MustCompile(`^X\d{6}_Y\d{6}$`)
)

// OutputDirName is the directory inside each zone that fused images go in
const OutputDirName = "stacked"

// Walk finds every raw tile directory of the scan at root and returns one
// job per tile, in zone then tile order.  It is used to re-stack a scan
// after the fact.
func Walk(root string) ([]Job, error) {
	zones, err := subdirs(root, zoneDirRe)
	if err != nil {
		return nil, err
	}
	var jobs []Job
	for _, z := range zones {
		zdir := filepath.Join(root, z)
		tiles, err := subdirs(zdir, tileDirRe)
		if err != nil {
			return nil, err
		}
		for _, t := range tiles {
			jobs = append(jobs, Job{
				RawDir:    filepath.Join(zdir, t),
				OutputDir: filepath.Join(zdir, OutputDirName)})
		}
	}
	return jobs, nil
}

func subdirs(dir string, re *regexp.Regexp) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && re.MatchString(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
