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

package kvstore

import (
	"errors"
	"strings"
	"testing"
)

// TestOpen_BadURL classifies malformed configuration as a protocol error.
func TestOpen_BadURL(t *testing.T) {
	if _, err := Open("not-a-redis-url"); !errors.Is(err, ErrStoreProtocol) {
		t.Fatalf("Open err = %v, want ErrStoreProtocol", err)
	}
}

// TestScripts_AreSingleRoundTripConditionals guards against someone
// "simplifying" the Lua into a read-then-write pair client-side.
func TestScripts_AreSingleRoundTripConditionals(t *testing.T) {
	for name, script := range map[string]string{"renew": renewScript, "release": releaseScript} {
		if !strings.Contains(script, `redis.call("GET", KEYS[1]) == ARGV[1]`) {
			t.Fatalf("%s script lost its ownership guard", name)
		}
	}
	if !strings.Contains(renewScript, "PEXPIRE") {
		t.Fatal("renew script must extend the TTL server-side")
	}
	if !strings.Contains(releaseScript, "DEL") {
		t.Fatal("release script must delete server-side")
	}
}

// TestWrapUnavailable keeps the error taxonomy stable for errors.Is callers.
func TestWrapUnavailable(t *testing.T) {
	err := wrapUnavailable("GET", errors.New("connection refused"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if !strings.Contains(err.Error(), "GET") {
		t.Fatalf("err should name the operation: %v", err)
	}
}
