// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CPUList is an ordered list of CPU ids. It is not modified once built.
type CPUList []int

// ErrInvalidList is returned for cpulist strings that do not follow the kernel
// list format
var ErrInvalidList = errors.New("invalid cpu list")

// ParseDelimitedList parses a kernel list string such as "0-3,8,10-12".
//
// When out is nil only the number of entries is computed, which allows callers
// to size a buffer before a second pass that fills it. The number of entries
// is returned in both cases.
func ParseDelimitedList(s string, out []int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty list", ErrInvalidList)
	}

	n := 0
	for _, token := range strings.Split(s, ",") {
		lo, hi, err := parseRange(token)
		if err != nil {
			return 0, err
		}
		for v := lo; v <= hi; v++ {
			if out != nil {
				if n >= len(out) {
					return 0, fmt.Errorf("%w: buffer too small for %q", ErrInvalidList, s)
				}
				out[n] = v
			}
			n++
		}
	}
	return n, nil
}

// ParseCPUList runs the counting and the filling pass of ParseDelimitedList
func ParseCPUList(s string) (CPUList, error) {
	n, err := ParseDelimitedList(s, nil)
	if err != nil {
		return nil, err
	}
	cpus := make(CPUList, n)
	if _, err := ParseDelimitedList(s, cpus); err != nil {
		return nil, err
	}
	return cpus, nil
}

func parseRange(token string) (int, int, error) {
	if token == "" {
		return 0, 0, fmt.Errorf("%w: empty token", ErrInvalidList)
	}

	first, last, isRange := strings.Cut(token, "-")
	lo, err := parseID(first)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return lo, lo, nil
	}

	hi, err := parseID(last)
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("%w: reversed range %q", ErrInvalidList, token)
	}
	return lo, hi, nil
}

func parseID(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: missing number", ErrInvalidList)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: unexpected character %q", ErrInvalidList, c)
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidList, err)
	}
	return v, nil
}

// Contains reports whether cpu is part of the list
func (l CPUList) Contains(cpu int) bool {
	for _, c := range l {
		if c == cpu {
			return true
		}
	}
	return false
}

// String formats the list back into the kernel list format
func (l CPUList) String() string {
	var sb strings.Builder
	for i := 0; i < len(l); i++ {
		start := l[i]
		for i+1 < len(l) && l[i+1] == l[i]+1 {
			i++
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		if l[i] == start {
			sb.WriteString(strconv.Itoa(start))
		} else {
			fmt.Fprintf(&sb, "%d-%d", start, l[i])
		}
	}
	return sb.String()
}
