package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"call-triage/internal/library"
	"call-triage/internal/models"
	"call-triage/internal/purge"
)

type purgeOptions struct {
	contacts string
	workers  int
	dryRun   bool
}

func newPurgeCmd(global *globalOptions) *cobra.Command {
	opts := &purgeOptions{}
	cmd := &cobra.Command{
		Use:   "purge [dir]",
		Short: "Delete every recording classified as unimportant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = rt.logger.Sync() }()
			return runPurge(cmd, rt, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.contacts, "contacts", "", "contact file (.vcf or .yaml)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "metadata workers (0 = automatic)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "list what would be deleted without touching files")
	return cmd
}

func runPurge(cmd *cobra.Command, rt *runtime, opts *purgeOptions, args []string) error {
	root, err := rt.recordingsRoot(args)
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
	candidates := lib.List(library.Filter{Classification: models.Unimportant})
	if len(candidates) == 0 {
		fmt.Fprintln(out, "nothing to purge")
		return nil
	}
	if opts.dryRun {
		fmt.Fprintf(out, "would delete %d of %d recordings:\n", len(candidates), lib.Len())
		return printRecordings(out, lib, candidates)
	}

	paths := make([]string, len(candidates))
	for i, rec := range candidates {
		paths[i] = rec.FilePath
	}
	if err := lib.Confirm(paths, models.Unimportant).Err(); err != nil {
		return fmt.Errorf("confirm unimportant recordings: %w", err)
	}

	report := purge.New(lib, purge.Options{Logger: rt.logger}).DeleteSelection(paths)
	fmt.Fprintf(out, "deleted %d recordings\n", len(report.Deleted))
	for _, f := range report.Failures {
		fmt.Fprintf(out, "failed %s: %s\n", f.Path, f.Reason)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d recordings could not be deleted", len(report.Failures))
	}
	return nil
}
