// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

// CoreRequest is the content of a request addressed to service 0.
// Exactly one field is set.
type CoreRequest struct {
	HasService    *HasServiceRequest    `cbor:"has_service,omitempty"`
	GetService    *GetServiceRequest    `cbor:"get_service,omitempty"`
	ReleaseObject *ReleaseObjectRequest `cbor:"release_object,omitempty"`
	EnableEvent   *EventRequest         `cbor:"enable_event,omitempty"`
	DisableEvent  *EventRequest         `cbor:"disable_event,omitempty"`
}

// HasServiceRequest asks whether a service is available.
type HasServiceRequest struct {
	Name string `cbor:"name"`
}

// GetServiceRequest asks for a new instance of a service. Fingerprint
// is the caller's expected schema fingerprint.
type GetServiceRequest struct {
	Name        string `cbor:"name"`
	Fingerprint string `cbor:"fingerprint"`
}

// ReleaseObjectRequest releases a tracked object of a service instance.
type ReleaseObjectRequest struct {
	Service uint32 `cbor:"service"`
	Object  uint32 `cbor:"object"`
}

// EventRequest turns delivery of one event of one object on or off.
type EventRequest struct {
	Service uint32 `cbor:"service"`
	Object  uint32 `cbor:"object"`
	Event   uint32 `cbor:"event"`
}

// Variant names the set field, or fails if zero or several are set.
func (r *CoreRequest) Variant() (string, error) {
	var names []string
	if r.HasService != nil {
		names = append(names, "has_service")
	}
	if r.GetService != nil {
		names = append(names, "get_service")
	}
	if r.ReleaseObject != nil {
		names = append(names, "release_object")
	}
	if r.EnableEvent != nil {
		names = append(names, "enable_event")
	}
	if r.DisableEvent != nil {
		names = append(names, "disable_event")
	}
	switch len(names) {
	case 0:
		return "", errors.New("core request has no variant set")
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("core request has %d variants set: %v", len(names), names)
	}
}

// CoreResponse is the content of a response from service 0. The set
// field mirrors the request variant.
type CoreResponse struct {
	HasService    *BoolResponse       `cbor:"has_service,omitempty"`
	GetService    *GetServiceResponse `cbor:"get_service,omitempty"`
	ReleaseObject *BoolResponse       `cbor:"release_object,omitempty"`
	EnableEvent   *BoolResponse       `cbor:"enable_event,omitempty"`
	DisableEvent  *BoolResponse       `cbor:"disable_event,omitempty"`
}

// BoolResponse is the answer to HasService, ReleaseObject and the
// event toggles.
type BoolResponse struct {
	Success bool `cbor:"success"`
}

// GetServiceStatus is the outcome of a GetService request.
type GetServiceStatus uint8

const (
	GetServiceSuccess GetServiceStatus = iota + 1
	GetServiceUnknownService
	GetServiceFingerprintMismatch
	GetServiceMissingPermission
	GetServiceInternalError
)

func (s GetServiceStatus) String() string {
	switch s {
	case GetServiceSuccess:
		return "success"
	case GetServiceUnknownService:
		return "unknown-service"
	case GetServiceFingerprintMismatch:
		return "fingerprint-mismatch"
	case GetServiceMissingPermission:
		return "missing-permission"
	case GetServiceInternalError:
		return "internal-error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// GetServiceResponse answers GetService. ID is set on success, Detail
// on internal errors.
type GetServiceResponse struct {
	Status GetServiceStatus `cbor:"status"`
	ID     uint32           `cbor:"id,omitempty"`
	Detail string           `cbor:"detail,omitempty"`
}

// Succeeded builds a success response for id.
func Succeeded(id uint32) GetServiceResponse {
	return GetServiceResponse{Status: GetServiceSuccess, ID: id}
}

// Failed builds a non-success response.
func Failed(status GetServiceStatus, detail string) GetServiceResponse {
	return GetServiceResponse{Status: status, Detail: detail}
}
