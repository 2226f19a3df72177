package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/HerbHall/metricd/internal/backup"
	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/internal/script"
)

// scriptFiles lists the script and include files referenced by the
// javascript instances, in configuration order.
func scriptFiles(cfg *config.Config) ([]string, error) {
	var jsCfg struct {
		Instances []script.InstanceConfig `mapstructure:"instances"`
	}
	if err := cfg.Sub("plugins." + script.PluginName).Unmarshal(&jsCfg); err != nil {
		return nil, fmt.Errorf("javascript config: %w", err)
	}
	var files []string
	for _, ic := range jsCfg.Instances {
		files = append(files, ic.Include...)
		if ic.Script != "" {
			files = append(files, ic.Script)
		}
	}
	return files, nil
}

func runBackup(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("backup", stderr)
	configPath := fs.String("config", "", "path to configuration file")
	output := fs.String("output", "", "output file (default metricd-backup-{timestamp}.tar.gz)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	scripts, err := scriptFiles(cfg)
	if err != nil {
		return err
	}
	if *output == "" {
		*output = fmt.Sprintf("metricd-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	opts := backup.Options{
		ConfigPath: cfg.Viper().ConfigFileUsed(),
		Scripts:    scripts,
		Output:     *output,
	}
	if dbPath := cfg.GetString("plugins.archive.path"); dbPath != "" {
		if _, err := os.Stat(dbPath); err == nil {
			opts.DBPath = dbPath
		}
	}
	if err := backup.Backup(ctx, opts); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "backup created: %s\n", *output)
	return nil
}

func runRestore(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("restore", stderr)
	input := fs.String("input", "", "backup archive to restore (required)")
	dir := fs.String("dir", ".", "target directory for restored files")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *input == "" {
		fmt.Fprintln(stderr, "error: --input is required")
		fs.Usage()
		return errUsage
	}

	restored, err := backup.Restore(ctx, *input, *dir, *force)
	if err != nil {
		if errors.Is(err, backup.ErrExists) {
			return fmt.Errorf("%w (use --force to overwrite)", err)
		}
		return err
	}
	for _, name := range restored {
		fmt.Fprintln(stdout, name)
	}
	fmt.Fprintf(stdout, "restored %d files to %s\n", len(restored), *dir)
	return nil
}
