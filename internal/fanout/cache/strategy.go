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

package cache

import (
	"fmt"
	"time"
)

// Strategy names a TTL policy applied to shared-store (L2) writes. The
// in-process tier caps whatever the strategy says at L1MaxTTL, so a LongTerm
// entry still rotates out of process memory within minutes.
type Strategy struct {
	name string
	ttl  time.Duration
}

var (
	// RealTime suits data refreshed every few seconds, like the live
	// market snapshot.
	RealTime = Strategy{name: "real_time", ttl: 30 * time.Second}

	// ShortTerm suits request-driven lookups.
	ShortTerm = Strategy{name: "short_term", ttl: 5 * time.Minute}

	// MediumTerm suits slow-moving reference data.
	MediumTerm = Strategy{name: "medium_term", ttl: time.Hour}

	// LongTerm suits near-static data.
	LongTerm = Strategy{name: "long_term", ttl: 3 * time.Hour}

	// Default is what callers get when they have no opinion.
	Default = Strategy{name: "default", ttl: 5 * time.Minute}
)

// Custom builds a one-off strategy with an explicit TTL.
func Custom(ttl time.Duration) Strategy {
	return Strategy{name: "custom", ttl: ttl}
}

// TTL returns the shared-store expiry for this strategy.
func (s Strategy) TTL() time.Duration {
	if s.ttl <= 0 {
		return Default.ttl
	}
	return s.ttl
}

func (s Strategy) String() string {
	if s.name == "" {
		return "default"
	}
	if s.name == "custom" {
		return fmt.Sprintf("custom(%s)", s.ttl)
	}
	return s.name
}
