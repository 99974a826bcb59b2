package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/rocket-control/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	data, err := readFlight(ctx, store, config.SessionID, logger)
	if err != nil {
		return err
	}

	renderer := NewPlotRenderer(RenderConfig{
		Width:    config.Width,
		Height:   config.Height,
		Location: config.TimeZone,
	})

	logger.Info("rendering flight",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering flight: %w", err)
	}

	return writeImage(config.OutputFile, config.Format, img)
}

func readFlight(ctx context.Context, store storage.Store, sessionID string, logger *slog.Logger) (*FlightData, error) {
	var session *storage.Session
	var err error
	if sessionID == "" {
		session, err = store.LatestSession(ctx)
	} else {
		session, err = store.Session(ctx, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	logger.Info("reading flight log", slog.String("session", session.ID))

	data := NewFlightData(session)
	for entry, err := range store.Entries(ctx, session.ID) {
		if err != nil {
			return nil, fmt.Errorf("reading entries: %w", err)
		}
		data.Update(entry)
	}
	if len(data.Samples) == 0 {
		return nil, errors.New("session has no entries")
	}

	if data.Events, err = store.Events(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}

	lo, hi := data.AltitudeRange()
	logger.Info("finished reading flight log",
		slog.Group("stats",
			slog.String("samples", humanize.Comma(int64(len(data.Samples)))),
			slog.String("events", humanize.Comma(int64(len(data.Events)))),
			slog.String("start", data.TimestampStart.Local().Format(time.DateTime)),
			slog.String("duration", data.Duration().String()),
			slog.String("altitude", fmt.Sprintf("%0.1fm to %0.1fm", lo, hi)),
		))

	return data, nil
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	switch format {
	case ImageJPEG:
		return jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	default:
		return png.Encode(out, img)
	}
}
