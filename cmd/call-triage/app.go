package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"call-triage/internal/classify"
	"call-triage/internal/config"
	"call-triage/internal/contacts"
	"call-triage/internal/library"
	"call-triage/internal/metadata"
	"call-triage/internal/models"
	"call-triage/internal/numbers"
	"call-triage/internal/scanner"
)

func (rt *runtime) newLibrary(workers int) *library.Library {
	if workers <= 0 {
		workers = rt.settings.Workers
	}
	scan := scanner.New(metadata.NewExtractor(rt.logger), scanner.Options{
		Extensions: config.AllowedExtensions(),
		Workers:    workers,
		Logger:     rt.logger,
	})
	engine := classify.NewEngine(numbers.NewClassifier(nil), rt.settings.ShortCallSeconds)
	return library.New(scan, engine, rt.logger)
}

// openContacts loads the contact file named by the flag or the configuration.
// It returns nil when neither names one. With onReload set the file is watched.
func (rt *runtime) openContacts(flagValue string, onReload func(*contacts.Directory)) (*contacts.Directory, error) {
	file := flagValue
	if file == "" {
		file = rt.settings.ContactsFile
	}
	path, ok, err := config.ResolveContactsFile(file)
	if err != nil {
		return nil, fmt.Errorf("resolve contacts file: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var dir *contacts.Directory
	if onReload != nil {
		dir, err = contacts.Watch(path, rt.settings.ReloadDebounce(), rt.logger, onReload)
	} else {
		dir, err = contacts.Open(path, rt.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	return dir, nil
}

func (rt *runtime) recordingsRoot(args []string) (string, error) {
	dir := rt.settings.RecordingsDir
	if len(args) > 0 {
		dir = args[0]
	}
	return config.ResolveRecordingsDir(dir)
}

// loadWithProgress scans root into lib while drawing a progress bar on w.
func loadWithProgress(ctx context.Context, lib *library.Library, root string, w io.Writer) (models.ScanResult, error) {
	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("scanning recordings"),
				progressbar.OptionThrottle(65*time.Millisecond),
				progressbar.OptionOnCompletion(func() {
					_, _ = fmt.Fprintln(w)
				}),
			)
		}
		_ = bar.Set(done)
	}

	result, err := lib.Load(ctx, root, progress)
	if bar != nil {
		_ = bar.Finish()
	}
	return result, err
}

func printRecordings(w io.Writer, lib *library.Library, recordings []models.Recording) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPHONE\tCONTACT\tDURATION\tCLASSIFICATION\tFILE")
	for _, rec := range recordings {
		contact := lib.ContactName(rec.PhoneNumber)
		if contact == "" {
			contact = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1fs\t%s\t%s\n",
			rec.CallTime.Format("2006-01-02 15:04:05"),
			rec.PhoneNumber,
			contact,
			rec.DurationSeconds,
			rec.Classification,
			rec.FilePath,
		)
	}
	return tw.Flush()
}

func printSkipped(w io.Writer, skipped []models.SkippedFile) {
	for _, s := range skipped {
		fmt.Fprintf(w, "skipped %s: %s\n", s.Path, s.Reason)
	}
}

func closeContacts(dir *contacts.Directory, logger *zap.Logger) {
	if dir == nil {
		return
	}
	if err := dir.Close(); err != nil {
		logger.Warn("error closing contact watcher", zap.Error(err))
	}
}
