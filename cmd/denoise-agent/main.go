package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/heimdex/denoise-agent/internal/watcher"
)

var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "denoise-agent",
		Usage:   "Send images through the remote denoise service",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "profile",
				Aliases: []string{"p"},
				Usage:   "Service profile from the settings file",
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "Invoke transport: http or grpc",
				Action: func(_ *cli.Context, v string) error {
					if v != "http" && v != "grpc" {
						return cli.Exit("transport must be http or grpc", 2)
					}
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Denoise one or more files",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Usage: "Object key prefix (default: profile name)"},
					&cli.StringFlag{Name: "model", Usage: "Override the model"},
					&cli.IntFlag{Name: "strength", Usage: "Override the denoise strength"},
					&cli.IntFlag{Name: "width", Usage: "Override the image width"},
					&cli.IntFlag{Name: "height", Usage: "Override the image height"},
					&cli.IntFlag{Name: "using-bits", Usage: "Override the bit depth"},
					&cli.BoolFlag{Name: "probe-tiff", Usage: "Read width and height from TIFF headers"},
				},
				Action: runCommand,
			},
			{
				Name:  "health",
				Usage: "Probe the remote service health endpoint",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Probe every configured profile"},
				},
				Action: healthCommand,
			},
			{
				Name:  "profiles",
				Usage: "Inspect configured profiles",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List profile names",
						Action: profilesListCommand,
					},
					{
						Name:      "show",
						Usage:     "Print a profile as YAML",
						ArgsUsage: "NAME",
						Action:    profilesShowCommand,
					},
				},
			},
			{
				Name:  "runs",
				Usage: "Show recent run history",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Number of runs to show"},
				},
				Action: runsCommand,
			},
			{
				Name:      "watch",
				Usage:     "Denoise files as they appear in a folder",
				ArgsUsage: "DIR",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Usage: "Object key prefix (default: profile name)"},
					&cli.StringSliceFlag{Name: "ext", Value: cli.NewStringSlice(".tif", ".tiff", ".raw"), Usage: "File extensions to pick up"},
					&cli.DurationFlag{Name: "settle", Value: watcher.DefaultSettle, Usage: "Quiet period before a new file is processed"},
					&cli.BoolFlag{Name: "probe-tiff", Usage: "Read width and height from TIFF headers"},
				},
				Action: watchCommand,
			},
			{
				Name:   "serve",
				Usage:  "Run the local control API and tray",
				Action: serveCommand,
			},
		},
	}
}
