package sensor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultW1Dir is where the kernel exposes 1-Wire devices
const DefaultW1Dir = "/sys/bus/w1/devices"

// DS18B20 devices use the 0x28 family code
const ds18b20Prefix = "28-"

// W1Reader reads DS18B20 probes through the w1_therm sysfs interface
type W1Reader struct {
	dir string
}

// NewW1Reader creates a reader rooted at the given sysfs directory
func NewW1Reader(dir string) *W1Reader {
	if dir == "" {
		dir = DefaultW1Dir
	}
	return &W1Reader{dir: dir}
}

// Read reads one conversion from the probe
func (r *W1Reader) Read(ctx context.Context, channelID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(filepath.Join(r.dir, channelID, "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("failed to read w1_slave: %w", err)
	}

	return ParseW1Slave(data)
}

// Discover lists the DS18B20 probes currently on the bus
func (r *W1Reader) Discover() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, ds18b20Prefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list 1-Wire devices: %w", err)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, filepath.Base(m))
	}
	sort.Strings(ids)
	return ids, nil
}

// ParseW1Slave decodes a w1_slave file.
// The first line ends in YES when the CRC matched, the second carries t=<millidegrees>.
func ParseW1Slave(data []byte) (float64, error) {
	lines := strings.Split(strings.TrimSpace(string(bytes.ReplaceAll(data, []byte("\r"), nil))), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("%w: truncated w1_slave output", ErrNotReady)
	}

	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("%w: crc check failed", ErrNotReady)
	}

	idx := strings.Index(lines[1], "t=")
	if idx < 0 {
		return 0, fmt.Errorf("%w: no temperature field", ErrNotReady)
	}

	milli, err := strconv.ParseFloat(strings.TrimSpace(lines[1][idx+2:]), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse temperature: %w", err)
	}

	return milli / 1000.0, nil
}
