// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/flowstate/services/flowstate"
	"github.com/AleutianAI/flowstate/services/flowstate/flow"
)

const apiPrefix = "/v1/flowstate"

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%s (HTTP %d", e.Message, e.Status)
	if e.Code != "" {
		msg += ", " + e.Code
	}
	msg += ")"
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// apiClient talks to a flowstate server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends body as JSON and decodes a 2xx answer into out. out may be nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach flowstate server at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e flowstate.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Code: e.Code, Message: e.Error, Details: e.Details}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) stats(ctx context.Context) (flowstate.StatsResponse, error) {
	var out flowstate.StatsResponse
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

func (c *apiClient) listFlows(ctx context.Context, all bool, offset, limit int) (flowstate.FlowListResponse, error) {
	path := "/flows"
	if all {
		path = "/flows/all"
	}
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out flowstate.FlowListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *apiClient) setFilter(ctx context.Context, text string) (flowstate.StatsResponse, error) {
	var out flowstate.StatsResponse
	err := c.do(ctx, http.MethodPut, "/filter", flowstate.SetFilterRequest{Filter: text}, &out)
	return out, err
}

func (c *apiClient) batch(ctx context.Context, op string) (flowstate.BatchResponse, error) {
	var out flowstate.BatchResponse
	err := c.do(ctx, http.MethodPost, "/flows/"+op, nil, &out)
	return out, err
}

func (c *apiClient) clear(ctx context.Context) (int, error) {
	var out flowstate.CountResponse
	err := c.do(ctx, http.MethodDelete, "/flows", nil, &out)
	return out.Count, err
}

func (c *apiClient) deleteFlow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/flows/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) duplicate(ctx context.Context, id string) (flow.Snapshot, error) {
	var out flowstate.FlowResponse
	err := c.do(ctx, http.MethodPost, "/flows/"+url.PathEscape(id)+"/duplicate", nil, &out)
	return out.Flow, err
}

func (c *apiClient) load(ctx context.Context, snaps []flow.Snapshot) (int, error) {
	var out flowstate.CountResponse
	err := c.do(ctx, http.MethodPost, "/flows/load", flowstate.LoadFlowsRequest{Flows: snaps}, &out)
	return out.Count, err
}
