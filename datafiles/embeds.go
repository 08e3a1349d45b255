// Package datafiles carries the assets bundled into the binary itself:
// a default palette and a fallback sprite/act pair. They back the
// lowest-priority asset source, so a request for one of these paths
// still resolves when neither the data folder nor any archive has it.
package datafiles

import (
	"embed"
	"io/fs"
)

//go:embed builtin
var builtinEmbed embed.FS

// Builtin is the embedded fallback file tree, rooted so that paths read
// "data/sprite/fallback.spr".
var Builtin fs.FS

func init() {
	sub, err := fs.Sub(builtinEmbed, "builtin")
	if err != nil {
		// The embed layout is fixed at build time.
		panic(err)
	}
	Builtin = sub
}
