// Command profdump converts a JSON accounting dump (as written by
// stats.WriteJSON) into a pprof profile, so
// scheduling behavior from a kernel test run can be inspected with
// `go tool pprof`.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rvcore/teachos/internal/stats"
)

func main() {
	in := flag.String("in", "", "path to a JSON accounting dump (stats.Dump)")
	out := flag.String("out", "profile.pb.gz", "path to write the pprof profile to")
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "profdump: --in is required")
		os.Exit(1)
	}
	if err := convert(*in, *out); err != nil {
		fmt.Fprintln(os.Stderr, "profdump:", err)
		os.Exit(1)
	}
}

func convert(inPath, outPath string) error {
	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	dump, err := stats.ReadJSON(f)
	if err != nil {
		return fmt.Errorf("decode dump: %w", err)
	}

	prof := stats.ToProfile(dump)

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	defer out.Close()

	if err := prof.Write(out); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	fmt.Printf("wrote %d samples to %s\n", len(dump.Samples), outPath)
	return nil
}
