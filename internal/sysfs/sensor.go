package sysfs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wattwatch/thermal-governor/internal/controller"
)

// Sensor reads package temperature and fan speed from sysfs, matching the
// hwmon/thermal_zone layout this corpus's cpu-temp tools walk. TempPath
// points at a millidegree-Celsius temp*_input or thermal_zone*/temp file;
// FanPaths point at one or more fan*_input files, and the highest reading
// among them is reported as FanRPM (spec §4.1).
type Sensor struct {
	TempPath string
	FanPaths []string
}

// Read implements controller.SensorReader. Both files are read directly;
// the context deadline set by the caller is enforced by racing the blocking
// read against ctx.Done(), since package os has no cancelable file I/O.
func (s *Sensor) Read(ctx context.Context) (controller.Reading, error) {
	tempMilliC, err := readCtx(ctx, s.TempPath)
	if err != nil {
		return controller.Reading{}, fmt.Errorf("sysfs: read temp %s: %w", s.TempPath, err)
	}

	// A missing or unreadable fan counts as 0 rather than failing the tick
	// (spec §4.1) — only the temperature read above is a soft sensor error.
	var maxRPM int64
	for _, p := range s.FanPaths {
		rpm, err := readCtx(ctx, p)
		if err != nil {
			continue
		}
		if rpm > maxRPM {
			maxRPM = rpm
		}
	}

	return controller.Reading{
		TempC:  int32(tempMilliC / 1000),
		FanRPM: uint32(maxRPM),
	}, nil
}

func readCtx(ctx context.Context, path string) (int64, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return 0, r.err
		}
		return parseInt(string(r.data))
	}
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
