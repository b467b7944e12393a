package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/foodios/appview/internal/build"
)

// NewVersionCommand returns the command to get the appview version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the appview version",
		Long:  "Return the appview version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

func version(_ *cobra.Command, _ []string) error {
	log.Printf("appview version %s date %s commit id %s", build.Version, build.Date, build.Commit)
	return nil
}
