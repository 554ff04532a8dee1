package configfx

import (
	"os"

	"github.com/spf13/pflag"
)

const (
	FlagConfig      = "config"
	FlagRun         = "run"
	FlagInitStorage = "init-storage"
)

func PFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)

	// Config file flag
	fs.StringP(FlagConfig, "c", "", "Config file")

	// One-shot modes: run named jobs once, or initialize storage
	// backends, then exit instead of staying resident
	fs.StringSlice(FlagRun, nil, "Run the listed jobs once and exit (empty list runs every enabled job)")
	fs.Lookup(FlagRun).NoOptDefVal = " "
	fs.Bool(FlagInitStorage, false, "Initialize every configured storage backend and exit")

	// ExitOnError makes a failed parse print usage and exit
	_ = fs.Parse(os.Args[1:])

	return fs
}
