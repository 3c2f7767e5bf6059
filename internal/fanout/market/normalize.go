// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Source is the provenance tag injected into every snapshot.
const Source = "external_apis"

// wellKnownFields is the schema clients are written against. Every
// snapshot carries all of them; ones the upstream did not supply are nil
// so consumers can distinguish "unknown" from "zero".
var wellKnownFields = []string{
	"btc_price_usd", "btc_change_24h",
	"eth_price_usd", "eth_change_24h",
	"sol_price_usd", "sol_change_24h",
	"xrp_price_usd", "xrp_change_24h",
	"ada_price_usd", "ada_change_24h",
	"link_price_usd", "link_change_24h",
	"bnb_price_usd", "bnb_change_24h",
	"market_cap_usd",
	"volume_24h_usd",
	"market_cap_change_percentage_24h_usd",
	"btc_market_cap_percentage",
	"eth_market_cap_percentage",
	"us_stock_indices",
}

// neutralDefaults are index-style fields where "unknown" is better
// represented by the scale midpoint than by null.
var neutralDefaults = map[string]any{
	"fng_value":  50,
	"btc_rsi_14": 50.0,
}

// Normalize shapes a raw upstream object into the canonical snapshot:
// every well-known field present (nil when missing), index fields
// defaulted to their midpoint, timestamp and source injected. Extra
// upstream fields pass through untouched. The input map is not modified.
func Normalize(raw map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(raw)+len(wellKnownFields)+4)
	for k, v := range raw {
		out[k] = v
	}
	for _, f := range wellKnownFields {
		if _, ok := out[f]; !ok {
			out[f] = nil
		}
	}
	for f, def := range neutralDefaults {
		if v, ok := out[f]; !ok || v == nil {
			out[f] = def
		}
	}
	out["timestamp"] = now.UTC().Format(time.RFC3339)
	out["source"] = Source
	return out
}

// flattenFields converts a snapshot into the flat string pairs a stream
// entry holds. Nested objects and arrays become their JSON encoding; nil
// becomes the empty string. A stream_timestamp field records the append
// wall time independently of the snapshot's own timestamp.
func flattenFields(snapshot map[string]any, now time.Time) map[string]string {
	fields := make(map[string]string, len(snapshot)+1)
	for k, v := range snapshot {
		fields[k] = stringify(v)
	}
	fields["stream_timestamp"] = now.UTC().Format(time.RFC3339)
	return fields
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}
