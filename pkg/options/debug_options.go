package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DebugOptions)(nil)

const (
	DumpTargetDir = "dir"
	DumpTargetS3  = "s3"
)

// DebugOptions control redacted debug dumps of provider traffic.
type DebugOptions struct {
	Dumps  bool   `json:"dumps" mapstructure:"dumps"`
	Target string `json:"target" mapstructure:"target"`
	Dir    string `json:"dir" mapstructure:"dir"`
}

func NewDebugOptions() *DebugOptions {
	return &DebugOptions{
		Dumps:  false,
		Target: DumpTargetDir,
		Dir:    ".storage/byd_vehicle_debug",
	}
}

func (o *DebugOptions) Validate() []error {
	if !o.Dumps {
		return nil
	}
	var errs []error
	switch o.Target {
	case DumpTargetDir:
		if o.Dir == "" {
			errs = append(errs, fmt.Errorf("debug.dir must not be empty"))
		}
	case DumpTargetS3:
	default:
		errs = append(errs, fmt.Errorf("debug.target must be %q or %q, got %q", DumpTargetDir, DumpTargetS3, o.Target))
	}
	return errs
}

func (o *DebugOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Dumps, "debug.dumps", o.Dumps, "Write redacted JSON traces of provider calls.")
	fs.StringVar(&o.Target, "debug.target", o.Target, "Where dumps are written: 'dir' or 's3'.")
	fs.StringVar(&o.Dir, "debug.dir", o.Dir, "Directory for debug dumps (dir target).")
}
