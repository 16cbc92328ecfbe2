package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zimwip/vmux/native"
)

func newFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the container formats the mux command can write",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printFormats(cmd.OutOrStdout(), native.Formats())
		},
	}
}

func printFormats(w io.Writer, formats []*native.Format) {
	name := color.New(color.FgCyan, color.Bold)
	faint := color.New(color.Faint)

	for _, f := range formats {
		var traits []string
		if f.GlobalHeader {
			traits = append(traits, "global header")
		}
		if f.Seekable {
			traits = append(traits, "seekable output")
		}

		fmt.Fprintf(w, "%s %-6s %s", name.Sprintf("%-8s", f.Name), f.Extension, f.LongName)
		if len(traits) > 0 {
			fmt.Fprintf(w, " %s", faint.Sprintf("(%s)", strings.Join(traits, ", ")))
		}
		fmt.Fprintln(w)
	}
}
