// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/apidaemon/lib/protocol"
)

func (c *Client) core(ctx context.Context, request protocol.CoreRequest) (protocol.CoreResponse, error) {
	var response protocol.CoreResponse
	if err := c.Invoke(ctx, protocol.CoreService, 0, request, &response); err != nil {
		return protocol.CoreResponse{}, err
	}
	return response, nil
}

func boolResult(response *protocol.BoolResponse, variant string) (bool, error) {
	if response == nil {
		return false, fmt.Errorf("core response has no %s answer", variant)
	}
	return response.Success, nil
}

// HasService asks whether name is offered.
func (c *Client) HasService(ctx context.Context, name string) (bool, error) {
	response, err := c.core(ctx, protocol.CoreRequest{HasService: &protocol.HasServiceRequest{Name: name}})
	if err != nil {
		return false, err
	}
	return boolResult(response.HasService, "has_service")
}

// GetService requests a new instance of name.
func (c *Client) GetService(ctx context.Context, name, fingerprint string) (protocol.GetServiceResponse, error) {
	response, err := c.core(ctx, protocol.CoreRequest{GetService: &protocol.GetServiceRequest{Name: name, Fingerprint: fingerprint}})
	if err != nil {
		return protocol.GetServiceResponse{}, err
	}
	if response.GetService == nil {
		return protocol.GetServiceResponse{}, fmt.Errorf("core response has no get_service answer")
	}
	return *response.GetService, nil
}

// ReleaseObject releases object of service, or the instance itself
// when object is 0.
func (c *Client) ReleaseObject(ctx context.Context, service, object uint32) (bool, error) {
	response, err := c.core(ctx, protocol.CoreRequest{ReleaseObject: &protocol.ReleaseObjectRequest{Service: service, Object: object}})
	if err != nil {
		return false, err
	}
	return boolResult(response.ReleaseObject, "release_object")
}

// EnableEvent turns on delivery of event from object of service.
func (c *Client) EnableEvent(ctx context.Context, service, object, event uint32) (bool, error) {
	response, err := c.core(ctx, protocol.CoreRequest{EnableEvent: &protocol.EventRequest{Service: service, Object: object, Event: event}})
	if err != nil {
		return false, err
	}
	return boolResult(response.EnableEvent, "enable_event")
}

// DisableEvent turns off delivery of event from object of service.
func (c *Client) DisableEvent(ctx context.Context, service, object, event uint32) (bool, error) {
	response, err := c.core(ctx, protocol.CoreRequest{DisableEvent: &protocol.EventRequest{Service: service, Object: object, Event: event}})
	if err != nil {
		return false, err
	}
	return boolResult(response.DisableEvent, "disable_event")
}
