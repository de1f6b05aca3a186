package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"call-triage/internal/export"
)

type scanOptions struct {
	contacts   string
	workers    int
	exportPath string
	format     string
}

func newScanCmd(global *globalOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Scan a recordings directory and print the classification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = rt.logger.Sync() }()
			return runScan(cmd, rt, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.contacts, "contacts", "", "contact file (.vcf or .yaml)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "metadata workers (0 = automatic)")
	cmd.Flags().StringVar(&opts.exportPath, "export", "", "write the listing to this file")
	cmd.Flags().StringVar(&opts.format, "format", export.FormatJSON, "export format (json, yaml)")
	return cmd
}

func runScan(cmd *cobra.Command, rt *runtime, opts *scanOptions, args []string) error {
	root, err := rt.recordingsRoot(args)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	lib := rt.newLibrary(opts.workers)
	dir, err := rt.openContacts(opts.contacts, nil)
	if err != nil {
		return err
	}
	defer closeContacts(dir, rt.logger)
	if dir != nil {
		lib.SetContacts(dir)
	}

	result, err := loadWithProgress(cmd.Context(), lib, root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	printSkipped(cmd.ErrOrStderr(), result.Skipped)

	out := cmd.OutOrStdout()
	if err := printRecordings(out, lib, lib.Snapshot()); err != nil {
		return err
	}

	if opts.exportPath == "" {
		return nil
	}
	f, err := os.Create(opts.exportPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := export.Write(f, format, lib.ScanID(), lib.Export()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	fmt.Fprintf(out, "exported %d recordings to %s\n", lib.Len(), opts.exportPath)
	return nil
}
