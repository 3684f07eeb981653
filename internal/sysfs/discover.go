package sysfs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCPUFreqGlob matches every per-CPU cpufreq directory on a Linux
// host, the same scaling_max_freq/scaling_min_freq layout the original
// cpu-temp and cpu-turbo-optimizer tools in this corpus walk.
const DefaultCPUFreqGlob = "/sys/devices/system/cpu/cpu[0-9]*/cpufreq"

// DefaultHwmonGlob matches every hwmon device directory.
const DefaultHwmonGlob = "/sys/class/hwmon/hwmon*"

// DefaultThermalZoneGlob matches every ACPI thermal zone.
const DefaultThermalZoneGlob = "/sys/class/thermal/thermal_zone*"

// DiscoverCPUFreqDirs globs for per-CPU cpufreq directories, sorted so CPU
// numbering is deterministic across calls.
func DiscoverCPUFreqDirs(glob string) ([]string, error) {
	if glob == "" {
		glob = DefaultCPUFreqGlob
	}
	dirs, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("sysfs: glob %s: %w", glob, err)
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("sysfs: no cpufreq directories matched %s", glob)
	}
	return dirs, nil
}

// DiscoverPackageTempInput finds the temp1_input file belonging to the
// named hwmon driver (e.g. "k10temp", "coretemp"). It falls back to the
// first CPU-labeled ACPI thermal zone if no hwmon device matches.
func DiscoverPackageTempInput(driverNames ...string) (string, error) {
	hwmonDirs, _ := filepath.Glob(DefaultHwmonGlob)
	for _, dir := range hwmonDirs {
		name, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		trimmed := strings.TrimSpace(string(name))
		for _, want := range driverNames {
			if trimmed == want {
				if path, ok := firstExisting(dir, "temp1_input"); ok {
					return path, nil
				}
			}
		}
	}

	zones, _ := filepath.Glob(DefaultThermalZoneGlob)
	for _, zone := range zones {
		typ, err := os.ReadFile(filepath.Join(zone, "type"))
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(typ)), "cpu") || bytes.Contains(bytes.ToLower(typ), []byte("pkg")) {
			return filepath.Join(zone, "temp"), nil
		}
	}

	return "", fmt.Errorf("sysfs: no package temperature sensor found among %v", driverNames)
}

// DiscoverFanInputs finds every fan*_input file across all hwmon devices.
func DiscoverFanInputs() ([]string, error) {
	hwmonDirs, _ := filepath.Glob(DefaultHwmonGlob)
	var out []string
	for _, dir := range hwmonDirs {
		matches, _ := filepath.Glob(filepath.Join(dir, "fan*_input"))
		out = append(out, matches...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sysfs: no fan*_input files found under %s", DefaultHwmonGlob)
	}
	return out, nil
}

func firstExisting(dir, name string) (string, bool) {
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); err == nil {
		return p, true
	}
	return "", false
}
