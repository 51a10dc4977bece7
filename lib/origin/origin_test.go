// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package origin

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name       string
		attributes Attributes
		permission string
		want       bool
	}{
		{"held", New("app://settings", "settings:read"), "settings:read", true},
		{"missing", New("app://settings", "settings:read"), "settings:write", false},
		{"empty permission", New("app://nothing"), "", true},
		{"unix socket holds all", UnixSocket(), "tcp-socket", true},
		{"identity match is exact", New("uds-imposter"), "tcp-socket", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.attributes.HasPermission(test.permission); got != test.want {
				t.Errorf("HasPermission(%q) = %v, want %v", test.permission, got, test.want)
			}
		})
	}
}

func TestNewCopiesPermissions(t *testing.T) {
	permissions := []string{"a", "b"}
	attributes := New("app", permissions...)
	permissions[0] = "mutated"
	if attributes.Permissions[0] != "a" {
		t.Errorf("New aliased caller slice: %v", attributes.Permissions)
	}
}
