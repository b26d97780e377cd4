// Package debugdump writes redacted JSON traces of provider traffic.
package debugdump

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"k8s.io/utils/clock"

	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

// Writer persists one dump per call. Failures never reach the caller.
type Writer interface {
	Write(ctx context.Context, category string, payload any)
}

// store is the destination of encoded dumps.
type store interface {
	put(ctx context.Context, name string, data []byte) error
	String() string
}

type writer struct {
	store  store
	clock  clock.PassiveClock
	logger log.Logger
}

// New returns the writer selected by opts. Dumps disabled yields a Nop.
func New(ctx context.Context, opts *options.DebugOptions, s3 *options.S3Options) (Writer, error) {
	if opts == nil || !opts.Dumps {
		return Nop{}, nil
	}

	var (
		st  store
		err error
	)
	switch opts.Target {
	case options.DumpTargetS3:
		st, err = newS3Store(ctx, s3)
	case options.DumpTargetDir, "":
		st, err = newDirStore(opts.Dir)
	default:
		err = fmt.Errorf("unknown dump target %q", opts.Target)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Debug dumps enabled", "target", st.String())
	return newWriter(st, clock.RealClock{}), nil
}

func newWriter(st store, clk clock.PassiveClock) *writer {
	return &writer{
		store:  st,
		clock:  clk,
		logger: log.WithName("debugdump"),
	}
}

func (w *writer) Write(ctx context.Context, category string, payload any) {
	name := FileName(w.clock.Now(), category)
	data, err := json.MarshalIndent(Redact(payload), "", "  ")
	if err != nil {
		w.logger.Debug("Failed to encode debug dump", "category", category, "error", err.Error())
		return
	}
	if err := w.store.put(ctx, name, data); err != nil {
		w.logger.Debug("Failed to write debug dump", "category", category, "target", w.store.String(), "error", err.Error())
	}
}

// FileName is <UTC yyyymmddThhmmss><microseconds>Z_<category>.json.
func FileName(t time.Time, category string) string {
	t = t.UTC()
	return fmt.Sprintf("%s%06dZ_%s.json", t.Format("20060102T150405"), t.Nanosecond()/int(time.Microsecond), category)
}

// Nop discards every dump.
type Nop struct{}

func (Nop) Write(context.Context, string, any) {}
