package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/osvaldoandrade/captionq/internal/providers"
	"github.com/osvaldoandrade/captionq/pkg/app"
	"github.com/osvaldoandrade/captionq/pkg/config"
	"github.com/osvaldoandrade/captionq/pkg/domain"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// captionCmd runs the whole pipeline in process against a throwaway
// in-memory session. Remote credentials come from the server config file
// and environment, exactly as the server reads them.
func captionCmd(ui *ui) *cobra.Command {
	var (
		csvPath     string
		concurrency int
		configFile  string
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:     "caption <file>...",
		Short:   "Caption local images without a server",
		Example: "captionq caption logo.svg photo.png --csv captions.csv",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency <= 0 {
				concurrency = 1
			}
			cfg, err := config.LoadConfigOptional(firstNonEmpty(configFile, os.Getenv("CAPTIONQ_CONFIG_PATH")))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.StoreBackend = "memory"
			cfg.KafkaBrokers = ""
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			application, err := app.NewApplication(cfg, app.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = application.Close(ctx)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, _, err := application.Sessions.Create(ctx, domain.CreateSessionRequest{})
			if err != nil {
				return err
			}

			bar := progressbar.NewOptions(len(args),
				progressbar.OptionSetDescription("Captioning"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetWriter(os.Stderr),
			)

			var (
				mu     sync.Mutex
				failed int
				lines  = make([]string, len(args))
			)
			grp, gctx := errgroup.WithContext(ctx)
			grp.SetLimit(concurrency)
			for i, path := range args {
				grp.Go(func() error {
					defer func() { _ = bar.Add(1) }()
					up, err := readImage(path)
					if err != nil {
						mu.Lock()
						failed++
						mu.Unlock()
						lines[i] = fmt.Sprintf("%s %s: %v", ui.err("[FAIL]"), path, err)
						return nil
					}
					res, err := application.Pipeline.Process(gctx, sess.ID, up)
					if err != nil {
						mu.Lock()
						failed++
						mu.Unlock()
						lines[i] = fmt.Sprintf("%s %s: %v", ui.err("[FAIL]"), up.FileName, err)
						return nil
					}
					lines[i] = fmt.Sprintf("%s %s: %s", ui.ok("[OK]"), up.FileName, res.Caption())
					return nil
				})
			}
			_ = grp.Wait()
			_ = bar.Finish()

			for _, l := range lines {
				fmt.Println(l)
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return err
				}
				if err := application.Export.ExportCSV(ctx, sess.ID, f); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("%s Wrote %s\n", ui.ok("[OK]"), csvPath)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write captions to this CSV file")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Images processed at once")
	cmd.Flags().StringVar(&configFile, "config", "", "Server config file (default $CAPTIONQ_CONFIG_PATH)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline steps")
	return cmd
}

// readImage loads path into an upload carrying both the raw bytes and a
// data URI, so it can go to the local pipeline or over the wire.
func readImage(path string) (domain.ImageUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ImageUpload{}, err
	}
	up := domain.ImageUpload{FileName: filepath.Base(path), Data: data}
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		up.ContentType = domain.SVGContentType
	} else {
		up.ContentType = http.DetectContentType(data)
	}
	up.Payload = providers.EncodeDataURI(up.ContentType, data)
	return up, nil
}
