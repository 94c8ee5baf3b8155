package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ListenKeyClient 管理用户数据流 listenKey（创建/续期/关闭）。
type ListenKeyClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewListenKeyHTTPClient listenKey 请求使用较短超时。
func NewListenKeyHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func (c *ListenKeyClient) NewListenKey(ctx context.Context) (string, error) {
	body, err := c.call(ctx, http.MethodPost)
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "decode listenKey")
	}
	if resp.ListenKey == "" {
		return "", errors.New("got empty listen key")
	}
	return resp.ListenKey, nil
}

// KeepAlive 续期，需每 60 分钟内调用一次。
func (c *ListenKeyClient) KeepAlive(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPut)
	return err
}

func (c *ListenKeyClient) Close(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodDelete)
	return err
}

func (c *ListenKeyClient) call(ctx context.Context, method string) ([]byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = NewListenKeyHTTPClient()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "listenKey %s", method)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "listenKey %s read", method)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("listenKey %s returned %d: %s", method, resp.StatusCode, string(body))
	}
	return body, nil
}
