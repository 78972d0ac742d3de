package cmd

import (
	"fmt"

	"github.com/Layr-Labs/runtime-indexer/internal/version"
	"github.com/spf13/cobra"
)

var runVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\nCommit: %s\n", version.GetVersion(), version.GetCommit())
	},
}
