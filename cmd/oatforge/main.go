// Command oatforge builds and inspects Android Runtime OAT containers.
//
//	oatforge dump  --oat boot.oat [--dump-classes] [--dump-tables]
//	oatforge build --oat out.oat --oat-version 079 --dex classes.dex
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"oatforge/internal/oat"
)

func main() {
	app := &cli.App{
		Name:  "oatforge",
		Usage: "build and dump Android Runtime OAT containers",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			if c.Bool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			dumpCommand(),
			buildCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "parse an OAT (or ELF-wrapped OAT) file and print its structure",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "oat", Usage: "OAT file to dump", Required: true},
			&cli.BoolFlag{Name: "dump-classes", Usage: "print the per-DEX class status matrix"},
			&cli.BoolFlag{Name: "dump-tables", Usage: "print the type lookup tables"},
			&cli.BoolFlag{Name: "print-unverified-classes", Usage: "list classes below Verified status"},
			&cli.BoolFlag{Name: "dump-memory-usage", Usage: "report consumed/unconsumed input ranges"},
			&cli.BoolFlag{Name: "best-effort", Usage: "keep decoding past structural damage"},
		},
		Action: runDump,
	}
}

func runDump(c *cli.Context) error {
	raw, err := os.ReadFile(c.String("oat"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	mode := oat.ModeStrict
	if c.Bool("best-effort") {
		mode = oat.ModeBestEffort
	}
	f := oat.Parse(raw, oat.Options{
		Mode:    mode,
		Account: c.Bool("dump-memory-usage"),
	})
	opts := oat.DumpOptions{
		Classes:           c.Bool("dump-classes"),
		Tables:            c.Bool("dump-tables"),
		UnverifiedClasses: c.Bool("print-unverified-classes"),
		MemoryUsage:       c.Bool("dump-memory-usage"),
	}
	if err := oat.Dump(os.Stdout, f, opts); err != nil {
		return cli.Exit(err, 1)
	}
	if f.Status != oat.StatusSuccess {
		logrus.Warnf("parse status: %s", f.Status)
		return cli.Exit("", 1)
	}
	return nil
}

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "assemble an OAT file from DEX inputs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "oat", Usage: "output OAT file", Required: true},
			&cli.StringFlag{Name: "oat-version", Usage: "target OAT version (045|064|079|088)", Required: true},
			&cli.StringSliceFlag{Name: "dex", Usage: "input DEX file (repeatable)", Required: true},
			&cli.StringSliceFlag{Name: "dex-location", Usage: "logical location for the matching --dex (repeatable)"},
			&cli.StringFlag{Name: "arch", Usage: "target architecture (arm|arm64|x86|x86_64)", Value: "arm"},
			&cli.BoolFlag{Name: "write-elf", Usage: "wrap the OAT image in an ELF shell"},
			&cli.StringFlag{Name: "art-image-location", Usage: "boot image path recorded in the key-value store"},
		},
		Action: runBuild,
	}
}

func runBuild(c *cli.Context) error {
	paths := c.StringSlice("dex")
	locations := c.StringSlice("dex-location")
	if len(locations) != 0 && len(locations) != len(paths) {
		return cli.Exit(fmt.Sprintf("%d --dex-location flags for %d --dex flags", len(locations), len(paths)), 1)
	}

	inputs := make([]oat.DexInput, 0, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return cli.Exit(err, 1)
		}
		loc := path
		if len(locations) != 0 {
			loc = locations[i]
		}
		inputs = append(inputs, oat.DexInput{Data: data, Location: loc})
	}

	out, err := os.Create(c.String("oat"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer out.Close()

	err = oat.Build(out, oat.BuildOptions{
		Version:          oat.VersionFromString(c.String("oat-version")),
		Arch:             c.String("arch"),
		Inputs:           inputs,
		WriteELF:         c.Bool("write-elf"),
		ArtImageLocation: c.String("art-image-location"),
	})
	if err != nil {
		return cli.Exit(err, 1)
	}
	logrus.Debugf("wrote %s", c.String("oat"))
	return nil
}
