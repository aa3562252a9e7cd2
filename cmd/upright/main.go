// Package main is the upright command line tool. It stands reconstructed scenes upright on their ground.
package main

import (
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"go.viam.com/upright/logging"
)

const (
	// Flags.
	flagOutput  = "output"
	flagConfig  = "config"
	flagPolicy  = "policy"
	flagFloor   = "floor"
	flagRanker  = "ranker"
	flagInplace = "inplace"
	flagSuffix  = "suffix"
	flagDebug   = "debug"

	defaultSuffix = "_aligned"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp returns the CLI with its output sent to out and its logs to errOut.
func newApp(out, errOut io.Writer) *cli.App {
	logger := logging.NewBlankLogger("upright")
	logger.AddAppender(logging.NewWriterAppender(errOut))
	logging.ReplaceGlobal(logger)

	engineFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load engine configuration from JSON `FILE`",
		},
		&cli.StringFlag{
			Name:  flagPolicy,
			Usage: "side decision policy: auto, connectivity, compactness, density_ratio or normal_consensus",
		},
		&cli.StringFlag{
			Name:  flagFloor,
			Usage: "ground height estimator: histogram or percentile",
		},
		&cli.StringFlag{
			Name:  flagRanker,
			Usage: "plane candidate ranker: inliers or aspect",
		},
	}

	return &cli.App{
		Name:      "upright",
		Usage:     "level reconstructed point clouds and splats on their ground",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger.SetLevel(logging.DEBUG)
			} else {
				logger.SetLevel(logging.INFO)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "align",
				Usage:     "align a single .ply, .pcd or .las file",
				ArgsUsage: "<file>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    flagOutput,
						Aliases: []string{"o"},
						Usage:   "write the aligned cloud to `FILE` instead of <name>_aligned<ext>",
					},
					&cli.BoolFlag{
						Name:  flagInplace,
						Usage: "overwrite the input file",
					},
				}, engineFlags...),
				Action: func(c *cli.Context) error {
					return alignAction(c, logger)
				},
			},
			{
				Name:      "batch",
				Usage:     "align every supported file of a directory, skipping the ones that fail",
				ArgsUsage: "<directory>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  flagSuffix,
						Value: defaultSuffix,
						Usage: "suffix added to the name of every aligned file",
					},
				}, engineFlags...),
				Action: func(c *cli.Context) error {
					return batchAction(c, logger)
				},
			},
		},
	}
}
