package topic

import "testing"

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("byd/v1/")
	vin := "LGXCE6CB0P0012345"

	tests := []struct {
		name, got, want string
	}{
		{"telemetry", b.Telemetry(vin), "byd/v1/telemetry/" + vin},
		{"gps", b.GPS(vin), "byd/v1/gps/" + vin},
		{"stream", b.Stream("gps", vin), "byd/v1/gps/" + vin},
		{"availability", b.Availability(vin), "byd/v1/availability/" + vin},
		{"command", b.Command(vin), "byd/v1/command/" + vin},
		{"command wildcard", b.CommandWildcard(), "byd/v1/command/+"},
		{"command result", b.CommandResult(vin), "byd/v1/command/result/" + vin},
		{"bridge", b.Bridge("poller-1"), "byd/v1/bridge/poller-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestVINFromCommand(t *testing.T) {
	b := NewTopicBuilder("byd/v1")

	if vin, ok := b.VINFromCommand("byd/v1/command/VIN1"); !ok || vin != "VIN1" {
		t.Fatalf("got %q, %v", vin, ok)
	}
	for _, topic := range []string{
		"byd/v1/command/result/VIN1",
		"byd/v1/command/",
		"other/command/VIN1",
	} {
		if _, ok := b.VINFromCommand(topic); ok {
			t.Errorf("VINFromCommand(%q) should not match", topic)
		}
	}
}

func TestShared(t *testing.T) {
	b := NewTopicBuilder("byd/v1")
	if got := Shared("", b.CommandWildcard()); got != "byd/v1/command/+" {
		t.Errorf("Shared without group = %q", got)
	}
	if got := Shared("pollers", b.CommandWildcard()); got != "$share/pollers/byd/v1/command/+" {
		t.Errorf("Shared = %q", got)
	}
}
