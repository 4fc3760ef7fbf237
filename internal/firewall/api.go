package firewall

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Route 路由查询结果中的一行
type Route struct {
	UUID     string `json:"uuid,omitempty"`
	Network  string `json:"network"`
	Gateway  string `json:"gateway"`
	Descr    string `json:"descr"`
	Disabled string `json:"disabled"`
}

// GatewayName 返回网关名，查询接口将该字段渲染为 "<name> - <address>"
func (r Route) GatewayName() string {
	f := strings.Fields(r.Gateway)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// RouteAPI 路由同步所需的 REST 接口
type RouteAPI interface {
	SearchRoutes(ctx context.Context) ([]Route, error)
	AddRoute(ctx context.Context, r Route) (string, error)
	DelRoute(ctx context.Context, uuid string) error
	Reconfigure(ctx context.Context) error
}

// APIClient 使用 key/secret 访问 https://<firewall>/api
type APIClient struct {
	BaseURL string
	Key     string
	Secret  string
	HTTP    *http.Client
}

// ReadAPIKeys 从 API 密钥文件读取 [api] 段的 key 和 secret
func ReadAPIKeys(path string) (string, string, error) {
	f, err := ini.Load(path)
	if err != nil {
		return "", "", fmt.Errorf("read api keys: %w", err)
	}
	sec := f.Section("api")
	key := strings.TrimSpace(sec.Key("key").String())
	secret := strings.TrimSpace(sec.Key("secret").String())
	if key == "" || secret == "" {
		return "", "", fmt.Errorf("%s: [api] key and secret are required", path)
	}
	return key, secret, nil
}

// NewAPIClient 创建客户端，防火墙使用自签名证书，因此不校验证书
func NewAPIClient(baseURL string, key string, secret string, timeout time.Duration) *APIClient {
	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
	}
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     key,
		Secret:  secret,
		HTTP:    &http.Client{Transport: transport, Timeout: timeout},
	}
}

// BaseURLFor 返回 domain 防火墙的默认 API 地址
func BaseURLFor(domain string) string {
	return "https://firewall." + domain + "/api"
}

func (c *APIClient) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.Key, c.Secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

type resultResponse struct {
	Result string `json:"result"`
	Status string `json:"status"`
	UUID   string `json:"uuid"`
}

// SearchRoutes 列出所有静态路由
func (c *APIClient) SearchRoutes(ctx context.Context) ([]Route, error) {
	var out struct {
		Rows []Route `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, "/routes/routes/searchroute", nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// AddRoute 创建路由并返回其 uuid
func (c *APIClient) AddRoute(ctx context.Context, r Route) (string, error) {
	r.UUID = ""
	var out resultResponse
	if err := c.do(ctx, http.MethodPost, "/routes/routes/addroute", map[string]Route{"route": r}, &out); err != nil {
		return "", err
	}
	if out.Result != "saved" {
		return "", fmt.Errorf("add route %s: result %q", r.Network, out.Result)
	}
	return out.UUID, nil
}

// DelRoute 按 uuid 删除路由
func (c *APIClient) DelRoute(ctx context.Context, uuid string) error {
	var out resultResponse
	if err := c.do(ctx, http.MethodPost, "/routes/routes/delroute/"+uuid, nil, &out); err != nil {
		return err
	}
	if out.Result != "deleted" {
		return fmt.Errorf("delete route %s: result %q", uuid, out.Result)
	}
	return nil
}

// Reconfigure 使已保存的路由生效
func (c *APIClient) Reconfigure(ctx context.Context) error {
	var out resultResponse
	if err := c.do(ctx, http.MethodPost, "/routes/routes/reconfigure", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("reconfigure routes: status %q", out.Status)
	}
	return nil
}

type keytabResponse struct {
	Response string `json:"response"`
	Status   string `json:"status"`
}

func (r keytabResponse) String() string {
	if r.Response != "" {
		return r.Response
	}
	return r.Status
}

// ShowKeytab 返回代理单点登录 keytab 列表
func (c *APIClient) ShowKeytab(ctx context.Context) (string, error) {
	var out keytabResponse
	if err := c.do(ctx, http.MethodGet, "/proxysso/service/showkeytab", nil, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

// CreateKeytab 使用域管理员凭据创建 keytab
func (c *APIClient) CreateKeytab(ctx context.Context, login string, password string) (string, error) {
	var out keytabResponse
	body := map[string]string{"admin_login": login, "admin_password": password}
	if err := c.do(ctx, http.MethodPost, "/proxysso/service/createkeytab", body, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

// DeleteKeytab 删除 keytab
func (c *APIClient) DeleteKeytab(ctx context.Context) (string, error) {
	var out keytabResponse
	if err := c.do(ctx, http.MethodGet, "/proxysso/service/deletekeytab", nil, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}
