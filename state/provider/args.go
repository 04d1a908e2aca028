package provider

import (
	"regexp"
	"strconv"
	"strings"
)

// Arg returns the argument at position pos of a call's printed argument list,
// e.g. Arg("a, f(b, c), {d, e}", 1) is "f(b, c)". Commas nested in (), {} or <>
// do not split arguments. Missing positions give "".
func Arg(args string, pos int) string {
	if pos < 0 {
		return ""
	}
	depth, current, start := 0, 0, 0
	for i, r := range args {
		switch r {
		case '(', '{', '<':
			depth++
		case ')', '}', '>':
			depth--
		case ',':
			if depth != 0 {
				continue
			}
			if current == pos {
				return strings.TrimSpace(args[start:i])
			}
			current++
			start = i + 1
		}
	}
	if current == pos {
		return strings.TrimSpace(args[start:])
	}
	return ""
}

var (
	deviceIDPattern = regexp.MustCompile(`deviceId\((\d+)\)`)
	streamPattern   = regexp.MustCompile(`stream\((\d+)\)`)
	leadingNumber   = regexp.MustCompile(`^\s*(-?\d+)`)
)

// ParseDeviceID extracts the device from args like "deviceId(2)" or a bare number.
func ParseDeviceID(args string) (int64, bool) {
	if m := deviceIDPattern.FindStringSubmatch(args); m != nil {
		v, err := strconv.ParseInt(m[1], 10, 64)
		return v, err == nil
	}
	return ParseNumber(Arg(args, 0))
}

// ParseStream extracts the stream id from an argument like "stream(3)" or a bare number.
func ParseStream(arg string) (int64, bool) {
	if m := streamPattern.FindStringSubmatch(arg); m != nil {
		v, err := strconv.ParseInt(m[1], 10, 64)
		return v, err == nil
	}
	return ParseNumber(arg)
}

// ParseNumber parses the leading integer of an argument such as "42" or "7 (int)".
func ParseNumber(arg string) (int64, bool) {
	m := leadingNumber.FindStringSubmatch(arg)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	return v, err == nil
}
