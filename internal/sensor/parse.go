package sensor

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSampleLine 解析 IMU 输出的一行 "x,y,z"（单位 g，允许空白与分号分隔）
func ParseSampleLine(line string) (x, y, z float64, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, 0, 0, fmt.Errorf("empty line")
	}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("expected 3 fields, got %d in %q", len(fields), line)
	}

	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid axis value %q: %w", f, err)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}
