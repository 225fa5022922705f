package util_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/microfossil/particle-scanner/util"
)

func ExampleIntSliceToCSV() {
	fmt.Println(util.IntSliceToCSV([]int{1000, 2000, 4000}))
	// Output: 1000,2000,4000
}

func ExampleHMS() {
	fmt.Println(util.HMS(3*time.Hour + 25*time.Minute + 7*time.Second))
	// Output: 3 25 7
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0
		high  = 10
		input = 20
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %d to be clipped to %d <= x <= %d, got %d", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0
		high  = 10
		input = -1
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %d to be clipped to %d <= x <= %d, got %d", input, low, high, clamped)
	}
}

func TestRemoveContentsKeepsDir(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "a", "b"), 0777)
	os.WriteFile(filepath.Join(dir, "c.txt"), []byte("x"), 0666)
	if err := util.RemoveContents(dir); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("expected dir to survive, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty dir, got %d entries", len(entries))
	}
}

func TestFreeBytesOnTempDir(t *testing.T) {
	n, err := util.FreeBytes(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Error("expected some free space in the temp dir")
	}
}
