// Binary grftool inspects and extracts GRF archives.
//
// Usage:
//
//	grftool -grf data.grf info
//	grftool -grf data.grf list
//	grftool -grf data.grf extract data\sprite\npc\poring.spr out.spr
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/EndurnyrProject/lifthrasir/grf"
)

var grfPath = flag.String("grf", "data.grf", "path to the archive")

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: grftool -grf <archive> info|list|extract <name> <out>")
		os.Exit(2)
	}

	f, err := grf.Open(*grfPath)
	if err != nil {
		glog.Exitf("opening %s: %v", *grfPath, err)
	}
	defer f.Close()

	switch flag.Arg(0) {
	case "info":
		fmt.Printf("archive: %s\n", f.Path())
		fmt.Printf("version: 0x%x\n", f.Version())
		fmt.Printf("entries: %d\n", len(f.Entries()))
	case "list":
		for _, e := range f.Entries() {
			if !e.IsFile() {
				continue
			}
			fmt.Printf("%10d %s\n", e.RealSize, e.Name)
		}
	case "extract":
		if flag.NArg() != 3 {
			fmt.Fprintln(os.Stderr, "usage: grftool -grf <archive> extract <name> <out>")
			os.Exit(2)
		}
		data, err := f.Read(flag.Arg(1))
		if err != nil {
			glog.Exitf("reading %s: %v", flag.Arg(1), err)
		}
		if err := os.WriteFile(flag.Arg(2), data, 0644); err != nil {
			glog.Exitf("writing %s: %v", flag.Arg(2), err)
		}
		fmt.Printf("wrote %d bytes to %s\n", len(data), flag.Arg(2))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		os.Exit(2)
	}
}
