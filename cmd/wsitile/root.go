package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for wsitile.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wsitile",
		Short: "Tile whole-slide images and bucket tiles by nucleus count",
		Long: `wsitile prepares histology whole-slide images for machine learning.

It reads pyramidal TIFF slides (Aperio .svs/.tif) block by block, cuts them
into 1024x1024 tiles at a chosen scale, and routes every tile into a bucket
directory by the number of cell nuclei found in it (0, 1-10, 11-100, 100+).

Runs are recorded in a local catalog; use 'wsitile history' to review them.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging and per-tile progress")

	cmd.AddCommand(NewTileCmd())
	cmd.AddCommand(NewClassifyCmd())
	cmd.AddCommand(NewAugmentCmd())
	cmd.AddCommand(NewInspectCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
