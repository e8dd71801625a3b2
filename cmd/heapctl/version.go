package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap/snapshot"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// versionInfo is the build and format identity of this heapctl binary.
type versionInfo struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	Built        string `json:"built"`
	Go           string `json:"go"`
	ImageVersion uint32 `json:"image_version"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:      version,
		Commit:       commit,
		Built:        date,
		Go:           runtime.Version(),
		ImageVersion: snapshot.Version,
	}
}

func (v versionInfo) writeText(w io.Writer) {
	fmt.Fprintf(w, "heapctl %s\n", v.Version)
	fmt.Fprintf(w, "  commit: %s\n", v.Commit)
	fmt.Fprintf(w, "  built: %s (%s)\n", v.Built, v.Go)
	fmt.Fprintf(w, "  image format: %s v%d\n", snapshot.Magic[:], v.ImageVersion)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and heap image format information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentVersion()
		if jsonOut {
			return printJSON(info)
		}
		info.writeText(os.Stdout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
