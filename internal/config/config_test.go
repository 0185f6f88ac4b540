package config

import (
	"os"
	"testing"
)

func TestLoadFallsBackToDefaultsWhenMissing(t *testing.T) {
	cfg := Load("/nonexistent/path/to/beastsplitterd.yaml")
	if cfg.Receiver.DevicePath != Default().Receiver.DevicePath {
		t.Errorf("DevicePath = %q, want default", cfg.Receiver.DevicePath)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	f, err := os.CreateTemp("", "beastsplitterd-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString("receiver:\n  device_path: /dev/ttyS5\n  fixed_baud_rate: 3000000\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg := Load(f.Name())
	if cfg.Receiver.DevicePath != "/dev/ttyS5" {
		t.Errorf("DevicePath = %q, want /dev/ttyS5", cfg.Receiver.DevicePath)
	}
	if cfg.Receiver.FixedBaudRate != 3000000 {
		t.Errorf("FixedBaudRate = %d, want 3000000", cfg.Receiver.FixedBaudRate)
	}
}

func TestEnvOverridesDevice(t *testing.T) {
	os.Setenv("BEAST_DEVICE", "/dev/ttyOverride")
	defer os.Unsetenv("BEAST_DEVICE")

	cfg := Load("/nonexistent/path/to/beastsplitterd.yaml")
	if cfg.Receiver.DevicePath != "/dev/ttyOverride" {
		t.Errorf("DevicePath = %q, want /dev/ttyOverride", cfg.Receiver.DevicePath)
	}
}

func TestEnvOverridesReceiverType(t *testing.T) {
	os.Setenv("BEAST_RECEIVER", "radarcape")
	defer os.Unsetenv("BEAST_RECEIVER")

	cfg := Load("/nonexistent/path/to/beastsplitterd.yaml")
	if cfg.Receiver.FixedType != "radarcape" {
		t.Errorf("FixedType = %q, want radarcape", cfg.Receiver.FixedType)
	}
}

func TestEnvOverridesReceiverTypeIgnoresInvalid(t *testing.T) {
	os.Setenv("BEAST_RECEIVER", "bogus")
	defer os.Unsetenv("BEAST_RECEIVER")

	cfg := Load("/nonexistent/path/to/beastsplitterd.yaml")
	if cfg.Receiver.FixedType != Default().Receiver.FixedType {
		t.Errorf("FixedType = %q, want default preserved on invalid override", cfg.Receiver.FixedType)
	}
}

func TestFixedTypeValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"beast", true},
		{"Radarcape", true},
		{"bogus", false},
	}
	for _, c := range cases {
		rc := ReceiverConfig{FixedType: c.in}
		if got := rc.FixedTypeValid(); got != c.want {
			t.Errorf("FixedTypeValid(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
