// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls log outputs.
type Options struct {
	Level  string
	Dir    string
	Pretty bool
	// Console defaults to stderr.
	Console io.Writer
}

// Setup installs the global logger writing to the console, a rotated file under Dir
// and the returned Broadcaster. The returned closer flushes the file writer.
func Setup(opts Options) (*Broadcaster, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if opts.Pretty {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}
	}

	writers := []io.Writer{console}

	var closer io.Closer = nopCloser{}
	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(dir, fmt.Sprintf("tavern-link-%s.log", time.Now().Format("2006-01-02"))),
			MaxSize:    20,
			MaxBackups: 7,
			MaxAge:     14,
			Compress:   true,
		}
		writers = append(writers, file)
		closer = file
	}

	broadcaster := NewBroadcaster(200)
	writers = append(writers, broadcaster)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return broadcaster, closer, nil
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
