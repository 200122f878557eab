package sysfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// newTestFS builds a fake sysfs tree in a temp dir.
func newTestFS(t *testing.T, files map[string]string) FS {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return FS{Root: root}
}

func TestReadLineTrims(t *testing.T) {
	fs := newTestFS(t, map[string]string{
		"sys/devices/system/cpu/cpu0/cpufreq/scaling_governor": "powersave\n",
	})

	got, err := fs.ReadLine("sys/devices/system/cpu/cpu0/cpufreq/scaling_governor")
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if got != "powersave" {
		t.Errorf("ReadLine = %q, want %q", got, "powersave")
	}
}

func TestReadLineNotPresent(t *testing.T) {
	fs := newTestFS(t, nil)

	_, err := fs.ReadLine("sys/firmware/acpi/platform_profile")
	if !errors.Is(err, ErrNotPresent) {
		t.Errorf("err = %v, want ErrNotPresent", err)
	}
}

func TestReadInt64(t *testing.T) {
	fs := newTestFS(t, map[string]string{
		"sys/class/thermal/thermal_zone0/temp": "87400\n",
	})

	got, err := fs.ReadInt64("sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		t.Fatalf("ReadInt64: %v", err)
	}
	if got != 87400 {
		t.Errorf("ReadInt64 = %d, want 87400", got)
	}
}

func TestReadInt64ParseError(t *testing.T) {
	fs := newTestFS(t, map[string]string{"sys/bogus": "not-a-number"})

	if _, err := fs.ReadInt64("sys/bogus"); err == nil {
		t.Error("expected parse error, got nil")
	}
}

func TestReadWords(t *testing.T) {
	fs := newTestFS(t, map[string]string{
		"sys/devices/system/cpu/cpu0/cpufreq/scaling_available_governors": "performance powersave\n",
	})

	got, err := fs.ReadWords("sys/devices/system/cpu/cpu0/cpufreq/scaling_available_governors")
	if err != nil {
		t.Fatalf("ReadWords: %v", err)
	}
	if len(got) != 2 || got[0] != "performance" || got[1] != "powersave" {
		t.Errorf("ReadWords = %v", got)
	}
}

func TestWriteLineRoundTrip(t *testing.T) {
	fs := newTestFS(t, map[string]string{
		"sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq": "3600000",
	})

	if err := fs.WriteLine("2400000", "sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	got, err := fs.ReadInt64("sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq")
	if err != nil {
		t.Fatalf("ReadInt64: %v", err)
	}
	if got != 2400000 {
		t.Errorf("read back %d, want 2400000", got)
	}
}

func TestWriteLineMissingIsUnsupported(t *testing.T) {
	fs := newTestFS(t, nil)

	err := fs.WriteLine("1", "sys/devices/system/cpu/intel_pstate", "no_turbo")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestWriteLinePermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, cannot provoke EACCES")
	}
	fs := newTestFS(t, map[string]string{"sys/locked": "0"})
	if err := os.Chmod(filepath.Join(fs.Root, "sys/locked"), 0o444); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	err := fs.WriteLine("1", "sys/locked")
	if !errors.Is(err, ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
}

func TestExists(t *testing.T) {
	fs := newTestFS(t, map[string]string{"sys/module/intel_pstate/dummy": ""})

	if !fs.Exists("sys/module/intel_pstate") {
		t.Error("Exists = false for present directory")
	}
	if fs.Exists("sys/module/amd_pstate") {
		t.Error("Exists = true for absent directory")
	}
}
