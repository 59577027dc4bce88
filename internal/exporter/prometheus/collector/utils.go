// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"regexp"
	"strings"
)

var (
	invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_:]`)
	repeatedUnderscore = regexp.MustCompile(`_{2,}`)
)

// SanitizeMetricName turns a user-chosen counter name such as "cache-hits"
// or "RAPL:PKG_ENERGY" into a valid Prometheus metric name component.
func SanitizeMetricName(name string) string {
	name = invalidMetricChars.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, ":", "_")
	name = repeatedUnderscore.ReplaceAllString(name, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}
