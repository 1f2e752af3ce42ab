package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"algohub/internal/master/launcher"
	"algohub/pkg/model"

	"github.com/spf13/viper"
)

// client 监控端 HTTP API 的薄封装
type client struct {
	base string
	http *http.Client
}

func newClient() *client {
	timeout := viper.GetDuration("timeout")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		base: strings.TrimRight(viper.GetString("server"), "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// apiError 监控端返回的非 2xx 响应
type apiError struct {
	Code    int
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Code: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		// 终止请求的 409/403 也要把响应体交给调用方
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type listResponse struct {
	Count      int                      `json:"count"`
	Algorithms []*model.AlgorithmRecord `json:"algorithms"`
}

func (c *client) list(ctx context.Context, q url.Values) ([]*model.AlgorithmRecord, error) {
	path := "/api/v1/algorithms"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Algorithms, nil
}

func (c *client) get(ctx context.Context, name string) (*model.AlgorithmRecord, error) {
	var rec model.AlgorithmRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/algorithms/"+url.PathEscape(name), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *client) remove(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/algorithms/"+url.PathEscape(name), nil, nil)
}

func (c *client) selectOne(ctx context.Context, q url.Values) (*model.AlgorithmRecord, error) {
	var rec model.AlgorithmRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/select?"+q.Encode(), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *client) terminate(ctx context.Context, name string) (*model.TerminateResponse, error) {
	var resp model.TerminateResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/algorithms/"+url.PathEscape(name)+"/terminate", nil, &resp)
	return &resp, err
}

type instancesResponse struct {
	Count     int                  `json:"count"`
	Instances []*launcher.Instance `json:"instances"`
}

func (c *client) instances(ctx context.Context) ([]*launcher.Instance, error) {
	var resp instancesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/instances", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

func (c *client) launch(ctx context.Context, spec launcher.Spec) (*launcher.Instance, error) {
	var inst launcher.Instance
	if err := c.do(ctx, http.MethodPost, "/api/v1/instances", spec, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *client) stop(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/instances/"+url.PathEscape(id), nil, nil)
}
