package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/upright/logging"
	"go.viam.com/upright/pointcloud"
	"go.viam.com/upright/upright"
)

// loadConfig reads the engine configuration from the config flag, if any, then applies the flag overrides.
func loadConfig(c *cli.Context) (upright.Config, error) {
	cfg := upright.DefaultConfig()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = upright.ReadConfigFile(path); err != nil {
			return upright.Config{}, err
		}
	}
	if c.IsSet(flagPolicy) {
		cfg.DecisionPolicy = upright.PolicyName(c.String(flagPolicy))
	}
	if c.IsSet(flagFloor) {
		cfg.ZFloorMethod = upright.FloorMethod(c.String(flagFloor))
	}
	if c.IsSet(flagRanker) {
		cfg.Ranker = upright.RankerName(c.String(flagRanker))
	}
	if err := cfg.Validate("flags"); err != nil {
		return upright.Config{}, err
	}
	return cfg, nil
}

// outputPath returns the path next to in with suffix appended to the file name, before the extension.
func outputPath(in, suffix string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + suffix + ext
}

func alignAction(c *cli.Context, logger logging.Logger) error {
	if c.Args().Len() != 1 {
		return errors.New("align takes exactly one input file")
	}
	in := c.Args().First()
	if c.Bool(flagInplace) && c.IsSet(flagOutput) {
		return errors.Errorf("--%s and --%s are mutually exclusive", flagInplace, flagOutput)
	}
	out := c.String(flagOutput)
	switch {
	case c.Bool(flagInplace):
		out = in
	case out == "":
		out = outputPath(in, defaultSuffix)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	decision, err := alignFile(upright.NewEngine(cfg, logger), in, out, logger)
	if err != nil {
		return err
	}
	printDecision(c, out, decision)
	return nil
}

func batchAction(c *cli.Context, logger logging.Logger) error {
	if c.Args().Len() != 1 {
		return errors.New("batch takes exactly one input directory")
	}
	dir := c.Args().First()
	suffix := c.String(flagSuffix)
	if suffix == "" {
		return errors.Errorf("--%s cannot be empty", flagSuffix)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "cannot read directory %q", dir)
	}
	var inputs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !pointcloud.IsSupportedFile(name) {
			continue
		}
		// outputs of a previous run
		if strings.HasSuffix(strings.TrimSuffix(name, filepath.Ext(name)), suffix) {
			continue
		}
		inputs = append(inputs, filepath.Join(dir, name))
	}
	sort.Strings(inputs)

	engine := upright.NewEngine(cfg, logger)
	var aligned, failed int
	for _, in := range inputs {
		out := outputPath(in, suffix)
		decision, err := alignFile(engine, in, out, logger)
		if err != nil {
			failed++
			logger.Warnw("skipping file", "file", in, "error", err)
			continue
		}
		aligned++
		printDecision(c, out, decision)
	}
	logger.Infow("batch done", "directory", dir, "aligned", aligned, "failed", failed)
	return nil
}

// alignFile reads the cloud in, aligns it and writes the result to out.
func alignFile(engine *upright.Engine, in, out string, logger logging.Logger) (*upright.Decision, error) {
	cloud, err := pointcloud.NewFromFile(in, logger)
	if err != nil {
		return nil, err
	}
	res, err := engine.Align(cloud)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot align %q", in)
	}
	if err := pointcloud.WriteToFile(res.Cloud, out); err != nil {
		return nil, err
	}
	logger.Infow("aligned", "input", in, "output", out, "points", cloud.Size(), "invert", res.Decision.Invert)
	return res.Decision, nil
}

func printDecision(c *cli.Context, out string, d *upright.Decision) {
	q := d.Quaternion
	fmt.Fprintf(c.App.Writer, "%s: normal=(%.4f, %.4f, %.4f) inliers=%d invert=%t z_offset=%.6f quat=(%.6f, %.6f, %.6f, %.6f)\n",
		out, d.Plane.Normal.X, d.Plane.Normal.Y, d.Plane.Normal.Z, d.Plane.InlierCount, d.Invert, d.ZOffset,
		q.Real, q.Imag, q.Jmag, q.Kmag)
	fmt.Fprintf(c.App.Writer, "  %s\n", d.Rationale)
}
