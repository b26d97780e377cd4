package debugdump

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

func TestRedactNested(t *testing.T) {
	in := map[string]any{
		"username": "me",
		"model":    "Seal",
		"entry":    map[string]any{"password": "secret", "region": "EU"},
		"vehicles": []any{map[string]any{"vin": "A"}, map[string]any{"vin": "B"}},
	}
	out := Redact(in).(map[string]any)

	if out["username"] != Redacted || out["model"] != "Seal" {
		t.Fatalf("flat: %v", out)
	}
	entry := out["entry"].(map[string]any)
	if entry["password"] != Redacted || entry["region"] != "EU" {
		t.Fatalf("nested: %v", entry)
	}
	for _, v := range out["vehicles"].([]any) {
		if v.(map[string]any)["vin"] != Redacted {
			t.Fatalf("list: %v", out["vehicles"])
		}
	}
	if in["username"] != "me" {
		t.Fatal("input must not be modified")
	}
}

func TestRedactStruct(t *testing.T) {
	type config struct {
		Username string  `json:"username"`
		Region   string  `json:"region"`
		Lat      float64 `json:"lat"`
	}
	out := Redact(config{Username: "me", Region: "EU", Lat: 59.9}).(map[string]any)
	if out["username"] != Redacted || out["lat"] != Redacted || out["region"] != "EU" {
		t.Fatalf("struct: %v", out)
	}

	typed := Redact(map[string]string{"access_token": "x", "country": "NL"}).(map[string]any)
	if typed["access_token"] != Redacted || typed["country"] != "NL" {
		t.Fatalf("typed map: %v", typed)
	}
}

func TestRedactDepthLimit(t *testing.T) {
	var data any = map[string]any{"a": "b"}
	for range 15 {
		data = map[string]any{"nested": data}
	}
	current := Redact(data).(map[string]any)
	for range 10 {
		current = current["nested"].(map[string]any)
	}
	if current["nested"] != "..." {
		t.Fatalf("depth limit: %v", current["nested"])
	}
}

func TestFileName(t *testing.T) {
	ts := time.Date(2025, 6, 1, 14, 3, 4, 123456789, time.FixedZone("CEST", 2*3600))
	if got, want := FileName(ts, "transport_gps"), "20250601T120304123456Z_transport_gps.json"; got != want {
		t.Fatalf("FileName = %q, want %q", got, want)
	}
}

func TestDirWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	st, err := newDirStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	clk := clocktesting.NewFakePassiveClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	w := newWriter(st, clk)

	w.Write(context.Background(), "command_lock", map[string]any{"vin": "LSIM", "ok": true})

	raw, err := os.ReadFile(filepath.Join(dir, "20250601T120000000000Z_command_lock.json"))
	if err != nil {
		t.Fatalf("dump not written: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["vin"] != Redacted || got["ok"] != true {
		t.Fatalf("dump = %s", raw)
	}
}

type fakePutter struct {
	bucket, object string
	body           []byte
	err            error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.bucket, f.object = bucket, object
	f.body, _ = io.ReadAll(r)
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func TestS3Writer(t *testing.T) {
	fp := &fakePutter{}
	clk := clocktesting.NewFakePassiveClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	w := newWriter(&s3Store{client: fp, bucket: "dumps", prefix: "debug/"}, clk)

	w.Write(context.Background(), "transport_realtime", map[string]any{"latitude": 1.0})
	if fp.bucket != "dumps" || fp.object != "debug/20250601T120000000000Z_transport_realtime.json" {
		t.Fatalf("put %s/%s", fp.bucket, fp.object)
	}
	var got map[string]any
	if err := json.Unmarshal(fp.body, &got); err != nil || got["latitude"] != Redacted {
		t.Fatalf("body = %s (%v)", fp.body, err)
	}

	// Failures are swallowed.
	fp.err = errors.New("bucket gone")
	w.Write(context.Background(), "transport_realtime", nil)
}

func TestNewDisabledIsNop(t *testing.T) {
	w, err := New(context.Background(), options.NewDebugOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := w.(Nop); !ok {
		t.Fatalf("writer = %T", w)
	}
}
