package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bnema/wlproto/internal/config"
	"github.com/bnema/wlproto/internal/logger"
	"github.com/bnema/wlproto/internal/ui"
	"github.com/bnema/wlproto/scanner"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 150 * time.Millisecond

var watch bool

var generateCmd = &cobra.Command{
	Use:   "generate [protocol.xml...]",
	Short: "Generate Go bindings from protocol XML files",
	Long: `Generate Go bindings from Wayland protocol XML files.

All files given in one run share a package, so typed new_id arguments and
enum references may point at interfaces declared in another file. With no
arguments the generate.protocols list from the config file is used.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringP("output-dir", "o", "", "Directory the generated files are written to")
	generateCmd.Flags().StringP("package", "p", "", "Package name of the generated files")
	generateCmd.Flags().String("mode", "", "Side to generate: client, server or both")
	generateCmd.Flags().String("runtime-import", "", "Import path of the conn and wire packages")
	generateCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Regenerate when an input file changes")

	viper.BindPFlag("generate.output_dir", generateCmd.Flags().Lookup("output-dir"))
	viper.BindPFlag("generate.package", generateCmd.Flags().Lookup("package"))
	viper.BindPFlag("generate.mode", generateCmd.Flags().Lookup("mode"))
	viper.BindPFlag("generate.runtime_import", generateCmd.Flags().Lookup("runtime-import"))

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := config.Get().Generate
	files := args
	if len(files) == 0 {
		files = cfg.Protocols
	}
	if len(files) == 0 {
		return errors.New("no protocol files given and generate.protocols is empty")
	}

	mode, err := scanner.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	opts := scanner.Options{
		Package:       cfg.Package,
		Mode:          mode,
		RuntimeImport: cfg.RuntimeImport,
	}

	written, err := generate(files, cfg.OutputDir, opts)
	if err != nil {
		return err
	}
	printWritten(cmd.OutOrStdout(), written)
	if !watch {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchProtocols(ctx, files, func() {
		written, err := generate(files, cfg.OutputDir, opts)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), ui.FormatError("Generation failed: "+err.Error()))
			return
		}
		printWritten(cmd.OutOrStdout(), written)
	})
}

func printWritten(w io.Writer, paths []string) {
	for _, p := range paths {
		fmt.Fprintln(w, ui.FormatSuccess("Wrote "+p))
	}
}

// generate parses every file, emits one Go file per protocol into outDir
// and returns the written paths. Nothing is written unless every protocol
// generates cleanly.
func generate(files []string, outDir string, opts scanner.Options) ([]string, error) {
	g, err := scanner.NewGenerator(opts)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		p, err := scanner.ParseFile(f)
		if err != nil {
			return nil, err
		}
		if err := g.Add(p); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
	}
	out, err := g.GenerateAll()
	if err != nil {
		return nil, err
	}

	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	written := make([]string, 0, len(out))
	for _, f := range out {
		path := filepath.Join(outDir, f.Name)
		if err := os.WriteFile(path, f.Source, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// watchProtocols calls regen whenever one of files changes, until ctx is
// done. Parent directories are watched because editors often replace a
// file instead of writing it in place.
func watchProtocols(ctx context.Context, files []string, regen func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	watched := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	logger.Infof("Watching %d protocol file(s) for changes", len(watched))

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				logger.Debug("protocol changed", "file", ev.Name, "op", ev.Op)
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("Watcher error: %v", err)
		case <-timer.C:
			regen()
		}
	}
}
