// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"github.com/bureau-foundation/apidaemon/lib/fingerprint"
)

// ServiceName is the name clients ask for in GetService.
const ServiceName = "SettingsManager"

// EventChange is the event id of Change, on object 0.
const EventChange uint32 = 0

// Permissions.
const (
	PermissionRead  = "settings:read"
	PermissionWrite = "settings:write"

	// PermissionTheme grants read access to ThemeSetting only.
	PermissionTheme = "themeable"
)

// ThemeSetting is readable with PermissionTheme alone.
const ThemeSetting = "nutria.theme"

// Get error reasons.
const (
	ReasonNonExistingSetting = "non_existing_setting"
	ReasonUnknownError       = "unknown_error"
)

// Schema is the RPC surface of SettingsManager.
var Schema = fingerprint.Schema{
	Name: ServiceName,
	Interfaces: []fingerprint.Interface{{
		Name: "settings_manager",
		Methods: []fingerprint.Method{
			{Name: "clear"},
			{Name: "get", Params: []fingerprint.Param{{Name: "name", Type: "str"}}, Returns: "setting_info", Error: "get_error"},
			{Name: "set", Params: []fingerprint.Param{{Name: "settings", Type: "[setting_info]"}}},
			{Name: "get_batch", Params: []fingerprint.Param{{Name: "names", Type: "[str]"}}, Returns: "[setting_info]"},
			{Name: "add_observer", Params: []fingerprint.Param{{Name: "name", Type: "str"}, {Name: "observer", Type: "setting_observer"}}},
			{Name: "remove_observer", Params: []fingerprint.Param{{Name: "name", Type: "str"}, {Name: "observer", Type: "setting_observer"}}},
		},
		Events: []fingerprint.Event{{Name: "change", Type: "setting_info"}},
	}},
	Callbacks: []fingerprint.Interface{{
		Name: "setting_observer",
		Methods: []fingerprint.Method{
			{Name: "callback", Params: []fingerprint.Param{{Name: "setting", Type: "setting_info"}}},
		},
	}},
	Dictionaries: []fingerprint.Dictionary{
		{Name: "setting_info", Fields: []fingerprint.Field{{Name: "name", Type: "str"}, {Name: "value", Type: "json"}}},
		{Name: "get_error", Fields: []fingerprint.Field{{Name: "name", Type: "str"}, {Name: "reason", Type: "str"}}},
	},
}

// Fingerprint is the schema fingerprint of SettingsManager.
var Fingerprint = fingerprint.Compute(Schema)

// Request is the content of a request to a SettingsManager instance.
// Exactly one field is set.
type Request struct {
	Get            *GetRequest      `cbor:"get,omitempty"`
	GetBatch       *GetBatchRequest `cbor:"get_batch,omitempty"`
	Set            *SetRequest      `cbor:"set,omitempty"`
	Clear          *ClearRequest    `cbor:"clear,omitempty"`
	AddObserver    *ObserverRequest `cbor:"add_observer,omitempty"`
	RemoveObserver *ObserverRequest `cbor:"remove_observer,omitempty"`
}

type GetRequest struct {
	Name string `cbor:"name"`
}

type GetBatchRequest struct {
	Names []string `cbor:"names"`
}

type SetRequest struct {
	Settings []SettingInfo `cbor:"settings"`
}

type ClearRequest struct{}

// ObserverRequest names a setting and the client's observer proxy id.
type ObserverRequest struct {
	Name     string `cbor:"name"`
	Observer uint32 `cbor:"observer"`
}

// Response mirrors the request variant. A failed Get sets GetError
// instead of Get.
type Response struct {
	Get            *SettingInfo `cbor:"get,omitempty"`
	GetError       *GetError    `cbor:"get_error,omitempty"`
	GetBatch       *Batch       `cbor:"get_batch,omitempty"`
	Set            *Result      `cbor:"set,omitempty"`
	Clear          *Result      `cbor:"clear,omitempty"`
	AddObserver    *Result      `cbor:"add_observer,omitempty"`
	RemoveObserver *Result      `cbor:"remove_observer,omitempty"`
}

type GetError struct {
	Name   string `cbor:"name"`
	Reason string `cbor:"reason"`
}

type Batch struct {
	Settings []SettingInfo `cbor:"settings"`
}

// Result is the answer to requests without a return value.
type Result struct {
	Success bool `cbor:"success"`
}

// Event is the content of an event from an instance.
type Event struct {
	Change *SettingInfo `cbor:"change,omitempty"`
}

// ObserverCall is the content of a request sent to an observer proxy.
type ObserverCall struct {
	Callback *SettingInfo `cbor:"callback,omitempty"`
}

// variant names the set request field, or "" unless exactly one is
// set.
func (r *Request) variant() string {
	var name string
	count := 0
	for _, candidate := range []struct {
		name string
		set  bool
	}{
		{"get", r.Get != nil},
		{"get_batch", r.GetBatch != nil},
		{"set", r.Set != nil},
		{"clear", r.Clear != nil},
		{"add_observer", r.AddObserver != nil},
		{"remove_observer", r.RemoveObserver != nil},
	} {
		if candidate.set {
			name = candidate.name
			count++
		}
	}
	if count != 1 {
		return ""
	}
	return name
}
