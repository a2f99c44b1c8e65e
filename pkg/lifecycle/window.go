// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package lifecycle

import "time"

// Windows is the number of equal rotation windows a renewal lifetime is
// split into.
const Windows = 3

// Window returns the rotation window (1..Windows) that now falls in for a
// renewal credential issued at issued and expiring at expires. It returns 0
// when the hints are missing or the renewal has expired.
func Window(issued, expires, now time.Time) int {
	if issued.IsZero() || !expires.After(issued) {
		return 0
	}
	if !now.Before(expires) {
		return 0
	}
	if now.Before(issued) {
		return 1
	}
	width := expires.Sub(issued) / Windows
	if width <= 0 {
		return 1
	}
	w := int(now.Sub(issued)/width) + 1
	if w > Windows {
		w = Windows
	}
	return w
}

// shouldRotate reports whether a refresh in window must also rotate keys.
// Window 1 never rotates; later windows rotate once.
func shouldRotate(window, lastRotated int) bool {
	return window >= 2 && lastRotated < window
}
