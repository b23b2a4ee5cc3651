package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/pipeline"
	imageprocessor "github.com/not-nullexception/image-derivatives/internal/processor/image"
)

var (
	processOutputDir string
	processNoSizes   bool
	processFormat    string
	processQuality   int
	processSummary   bool
)

var processCmd = &cobra.Command{
	Use:   "process [flags] <file>...",
	Short: "Generate derivatives for one or more images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if processOutputDir != "" {
			cfg.Pipeline.OutputDir = processOutputDir
		}
		if !cmd.Flags().Changed("format") {
			processFormat = cfg.Pipeline.Format
		}
		if !cmd.Flags().Changed("quality") {
			processQuality = cfg.Pipeline.Quality
		}

		opts, err := pipeline.NewOptions(!processNoSizes, processFormat, processQuality)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The pipeline deletes its sources, so it works on copies.
		workDir, err := os.MkdirTemp("", "derive-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)

		files, err := stageInputs(workDir, args)
		if err != nil {
			return err
		}

		orchestrator := pipeline.NewFromConfig(&cfg.Pipeline)
		items := orchestrator.ProcessMultipleImages(ctx, files, opts)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			return err
		}

		if processSummary {
			fmt.Fprintln(cmd.ErrOrStderr(), renderSummary(items, cfg.Pipeline.OutputDir))
		}

		if failed := countFailed(items); failed > 0 {
			return fmt.Errorf("%d of %d images failed", failed, len(items))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOutputDir, "out", "o", "", "directory derivatives are written to")
	processCmd.Flags().BoolVar(&processNoSizes, "no-sizes", false, "write a single optimized file instead of every preset")
	processCmd.Flags().StringVar(&processFormat, "format", "webp", "output format with --no-sizes (webp, jpeg, png)")
	processCmd.Flags().IntVar(&processQuality, "quality", 85, "output quality with --no-sizes (1-100)")
	processCmd.Flags().BoolVar(&processSummary, "summary", true, "print a summary to stderr")
	rootCmd.AddCommand(processCmd)
}

// stageInputs copies every input into dir. Output names derive from the
// staged name's output stem, so inputs whose stems repeat get an index suffix.
func stageInputs(dir string, paths []string) ([]pipeline.File, error) {
	files := make([]pipeline.File, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for i, path := range paths {
		base := filepath.Base(path)
		name := base
		ext := filepath.Ext(base)
		for n := i; seen[imageprocessor.OutputStem(name)]; n++ {
			name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), n, ext)
		}
		seen[imageprocessor.OutputStem(name)] = true

		staged := filepath.Join(dir, name)
		n, err := copyFile(path, staged)
		if err != nil {
			return nil, fmt.Errorf("error staging %s: %w", path, err)
		}
		files = append(files, pipeline.File{Path: staged, OriginalName: base, Size: n})
	}
	return files, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

func countFailed(items []pipeline.BatchItem) int {
	var n int
	for _, item := range items {
		if item.Failed() {
			n++
		}
	}
	return n
}
