package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zimwip/vmux"
	"github.com/zimwip/vmux/native"
)

type muxOptions struct {
	format    string
	faststart bool
	delay     int
	frameRate int
	options   map[string]string
	verbose   bool
}

func newMuxCommand(a *app) *cobra.Command {
	opts := &muxOptions{}

	cmd := &cobra.Command{
		Use:   "mux INPUT.h264 OUTPUT",
		Short: "Mux an Annex-B H.264 elementary stream into a container",
		Long: `Mux reads an Annex-B H.264 elementary stream, splits it into access units
and writes them to OUTPUT. The container is chosen by --format or
the OUTPUT extension.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("format") {
				opts.format = a.cfg.Mux.Format
			}
			if !flags.Changed("faststart") {
				opts.faststart = a.cfg.Mux.Faststart
			}
			if !flags.Changed("delay") {
				opts.delay = a.cfg.Mux.Delay
			}
			if !flags.Changed("fps") {
				opts.frameRate = a.cfg.Mux.FrameRate
			}
			for k, v := range a.cfg.Mux.Options {
				if _, ok := opts.options[k]; !ok {
					opts.options[k] = v
				}
			}
			return runMux(cmd.OutOrStdout(), a.log, args[0], args[1], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "", "container format (see vmux formats)")
	f.BoolVar(&opts.faststart, "faststart", false, "move the mp4 index in front of the media data")
	f.IntVar(&opts.delay, "delay", 0, "packets the encoder holds back before emitting")
	f.IntVar(&opts.frameRate, "fps", 30, "input frame rate")
	f.StringToStringVarP(&opts.options, "option", "o", map[string]string{}, "format option key=value")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "print the output layout")
	return cmd
}

func runMux(stdout io.Writer, log *zap.Logger, input, output string, opts *muxOptions) error {
	if opts.frameRate <= 0 {
		return errors.Errorf("invalid frame rate %d", opts.frameRate)
	}

	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	reader, err := native.NewAccessUnitReader(in)
	if err != nil {
		return errors.Wrapf(err, "read %s", input)
	}
	sps, pps, ok := reader.ParameterSets()
	if !ok {
		return errors.Errorf("%s: no SPS/PPS found", input)
	}

	codec, err := native.NewH264Codec(native.H264Config{
		SPS:      sps,
		PPS:      pps,
		TimeBase: vmux.R(1, opts.frameRate),
		Delay:    opts.delay,
	})
	if err != nil {
		return err
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}

	builder := vmux.NewMuxer(native.NewEngine()).
		Name(output).
		FormatName(opts.format).
		AddEncoder(codec).
		Logger(log)
	for k, v := range opts.options {
		builder.Option(k, v)
	}
	if opts.faststart {
		builder.Faststart()
	}

	// The muxer owns out from here on and closes it.
	m, err := builder.Open(out)
	if err != nil {
		return err
	}

	frames := 0
	for {
		au, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			m.Close()
			return err
		}
		if _, err := m.SendFrame(0, au); err != nil {
			m.Close()
			return errors.Wrapf(err, "frame %d", frames)
		}
		frames++
	}
	if err := m.Close(); err != nil {
		return err
	}

	log.Info("mux finished",
		zap.String("output", output),
		zap.Int("frames", frames),
		zap.Uint32("duration", m.Duration()))

	if opts.verbose {
		m.Dump(stdout)
	}
	stats := m.Stats()
	fmt.Fprintf(stdout, "%s %d frames, %d packets (%d drained), %d bytes, %ds\n",
		color.GreenString("wrote %s:", output), frames, stats.Packets[0], stats.Drained, stats.Bytes, m.Duration())
	return nil
}
