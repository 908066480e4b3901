package main

import (
	"fmt"
	"text/tabwriter"

	"hls-cdnsim/internal/cdn"

	"github.com/spf13/cobra"
)

func newLadderCmd() *cobra.Command {
	var device string
	var bandwidth float64

	cmd := &cobra.Command{
		Use:   "ladder",
		Short: "Print the quality ladder, optionally filtered for a device and bandwidth",
		RunE: func(cmd *cobra.Command, args []string) error {
			levels := cdn.DefaultLadder()
			if bandwidth > 0 {
				levels = cdn.OfferedQualities(levels, cdn.ParseDeviceType(device), bandwidth)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tBITRATE\tRESOLUTION\tFPS\tCODEC")
			for _, q := range levels {
				fmt.Fprintf(tw, "%d\t%d\t%dx%d\t%d\t%s\n", q.ID, q.Bitrate, q.Resolution.Width, q.Resolution.Height, q.FPS, q.Codec)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&device, "device", "desktop", "device class: mobile, tablet, smarttv or desktop")
	cmd.Flags().Float64Var(&bandwidth, "bandwidth", 0, "bandwidth estimate in bps; 0 prints the full ladder")
	return cmd
}
