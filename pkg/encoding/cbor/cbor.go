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

// Package cbor is the record codec for client-local persisted state. It
// wraps fxamacker/cbor with Core Deterministic Encoding so the same record
// always produces the same bytes.
package cbor

import (
	"reflect"

	fxcbor "github.com/fxamacker/cbor/v2"
)

var (
	encMode fxcbor.EncMode
	decMode fxcbor.DecMode
)

func init() {
	var err error

	encOptions := fxcbor.CoreDetEncOptions()
	encOptions.Time = fxcbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("cbor: encoder initialization failed: " + err.Error())
	}

	decMode, err = fxcbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cbor: decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Valid reports whether data is a single well-formed CBOR item.
func Valid(data []byte) bool {
	return decMode.Wellformed(data) == nil
}
