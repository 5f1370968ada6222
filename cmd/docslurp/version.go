package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=..."; anything left empty is read from
// the build info the go tool embeds.
var (
	version   = "dev"
	gitCommit = ""
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print docslurp version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		writeVersion(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

type buildDetails struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
}

func readBuildDetails() buildDetails {
	d := buildDetails{Version: version, Commit: gitCommit, Date: buildDate}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return d
	}
	if d.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		d.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if d.Commit == "" {
				d.Commit = s.Value
			}
		case "vcs.time":
			if d.Date == "" {
				d.Date = s.Value
			}
		case "vcs.modified":
			d.Modified = s.Value == "true"
		}
	}
	return d
}

func writeVersion(w io.Writer) {
	d := readBuildDetails()
	fmt.Fprintf(w, "docslurp %s (%s, %s/%s)\n", d.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if d.Commit != "" {
		commit := d.Commit
		if d.Modified {
			commit += "-dirty"
		}
		fmt.Fprintf(w, "commit: %s\n", commit)
	}
	if d.Date != "" {
		fmt.Fprintf(w, "built: %s\n", d.Date)
	}
}
