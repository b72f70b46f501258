package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"opiload/internal/catalog"
	"opiload/internal/config"
	"opiload/internal/datasource"
)

func newFilesCmd(a *app) *cobra.Command {
	var urls bool
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the files opiload can load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			headers := []string{"ID", "NAME", "TABLE"}
			if urls {
				headers = append(headers, "URL")
			}
			var rows [][]string
			for _, f := range a.deps.catalog() {
				row := []string{f.ID, f.Name, f.Table()}
				if urls {
					row = append(row, f.URL)
				}
				rows = append(rows, row)
			}
			newPrinter(a.stdout).table(headers, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&urls, "urls", false, "include download URLs")
	return cmd
}

// dataConfig loads config and applies an optional --data-dir flag.
func (a *app) dataConfig(cmd *cobra.Command, dataDir string) (config.Config, error) {
	cfg, err := a.config()
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return cfg, usagef("data directory is required")
	}
	return cfg, nil
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		dataDir string
		verify  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which archives are downloaded and extracted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.dataConfig(cmd, dataDir)
			if err != nil {
				return err
			}
			headers := []string{"ID", "NAME", "STATUS", "ARCHIVE"}
			if verify {
				headers = append(headers, "VERIFIED")
			}
			dir := datasource.Dir{Root: cfg.DataDir}
			var rows [][]string
			for _, f := range a.deps.catalog() {
				st := datasource.Status(cfg.DataDir, f)
				name := f.Name
				if strings.EqualFold(f.ID, cfg.Reference) {
					name += " (reference)"
				}
				size := "-"
				if fi, err := os.Stat(dir.ZipPath(f.ID)); err == nil {
					size = formatBytes(fi.Size())
				}
				row := []string{f.ID, name, st.String(), size}
				if verify {
					row = append(row, verifyStatus(cfg.DataDir, f, st))
				}
				rows = append(rows, row)
			}
			newPrinter(a.stdout).table(headers, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory holding archives and extracted data")
	cmd.Flags().BoolVar(&verify, "verify", false, "check SHA-256 digests of archives and extracted files")
	return cmd
}

func verifyStatus(root string, f catalog.File, st datasource.FileStatus) string {
	var err error
	switch st {
	case datasource.StatusMissing:
		return "-"
	case datasource.StatusArchived:
		err = datasource.VerifySHA256(datasource.Dir{Root: root}.ZipPath(f.ID), f.ZipSHA256)
	case datasource.StatusUnverifiable:
		err = datasource.VerifyExtracted(root, f)
	default:
		err = datasource.VerifySHA256(datasource.Dir{Root: root}.ZipPath(f.ID), f.ZipSHA256)
		if err == nil {
			err = datasource.VerifyExtracted(root, f)
		}
	}
	if err != nil {
		return "mismatch"
	}
	return "ok"
}

// haveArchive reports whether f's archive is on disk and matches the
// catalog digest.
func haveArchive(dir datasource.Dir, f catalog.File) bool {
	switch datasource.Status(dir.Root, f) {
	case datasource.StatusArchived, datasource.StatusExtracted:
		return datasource.VerifySHA256(dir.ZipPath(f.ID), f.ZipSHA256) == nil
	}
	return false
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		dataDir string
		force   bool
		extract bool
	)
	cmd := &cobra.Command{
		Use:   "fetch [ids...]",
		Short: "Download and verify archives (all missing ones by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.dataConfig(cmd, dataDir)
			if err != nil {
				return err
			}
			targets := a.deps.catalog()
			if len(args) > 0 {
				targets = targets[:0:0]
				for _, id := range args {
					f, ok := a.lookup(id)
					if !ok {
						return usagef("unknown file id %q (see \"opiload files\")", id)
					}
					targets = append(targets, f)
				}
			}

			ctx := cmd.Context()
			logger := a.logger()
			out := newPrinter(a.stdout)
			bytes := newProgress(a.stderr, "downloaded", a.deps.progressEvery, formatBytes)
			fe := a.deps.newFetcher(cfg, logger, bytes.addBytes)
			dir := datasource.Dir{Root: cfg.DataDir}

			stop := bytes.start()
			defer stop()

			var failed int
			for _, f := range targets {
				if !force && haveArchive(dir, f) {
					out.line("%s %s already downloaded", out.dim.Render("i"), f.ID)
					continue
				}
				n, err := fe.Fetch(ctx, f, cfg.DataDir)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failed++
					out.line("%s %s (%s): %s", out.fail.Render("✗"), f.ID, f.Name, out.fail.Render(err.Error()))
					continue
				}
				out.line("%s Downloaded %s (%s) - %s", out.ok.Render("✓"), f.ID, f.Name, formatBytes(n))
				if extract {
					m, err := datasource.ExtractFile(ctx, cfg.DataDir, f.ID)
					if err != nil {
						failed++
						out.line("%s extract %s: %s", out.fail.Render("✗"), f.ID, out.fail.Render(err.Error()))
						continue
					}
					out.line("%s Decompressed %s - %s", out.ok.Render("✓"), f.ID, formatBytes(m))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d downloads failed", failed, len(targets))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dataDir, "data-dir", "", "directory holding archives and extracted data")
	f.BoolVar(&force, "force", false, "download even when a verified archive is present")
	f.BoolVar(&extract, "extract", false, "extract each archive after downloading it")
	return cmd
}
