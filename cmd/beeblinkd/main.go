// Command beeblinkd serves the BeebLink protocol (§1) to a BBC Micro
// fitted with the BeebLink ROM, over a local HTTP tunnel (the serve
// command does not open a serial device). Grounded on the teacher's cobra-rooted CLI shape: a root command
// with a discoverable subcommand per mode of operation, flags bound
// through spf13/pflag the way backend/torrent/cmd binds its own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "beeblinkd",
	Short: "BeebLink file-storage and disk-image server",
	Long: `beeblinkd presents DFS/ADFS/PC-style volumes to a BBC Micro over
the BeebLink protocol, answering OSFILE/OSFIND/OSARGS/OSGBPB calls and
ferrying whole disk images sector-by-sector, over a local HTTP tunnel.
The serve command does not open a serial device.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
