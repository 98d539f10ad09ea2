package gps51

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// 上游业务状态码
const (
	statusOK           = 0
	statusTokenExpired = 1    // token 失效，重新登录后重试一次
	statusRateLimited  = 8902 // 平台限流
)

// token 有效期。平台 token 实际在退出前长期有效，这里保守按 12 小时刷新。
const tokenLifetime = 12 * time.Hour

// 错误定义
var (
	ErrUnauthorized = fmt.Errorf("unauthorized")
	ErrRateLimited  = fmt.Errorf("rate limited")
)

// Client GPS51 API 客户端。
// 所有出站请求串行化并保持最小间隔，命中限流时指数退避。
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string // md5 hex
	from       string

	minInterval    time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	maxAttempts    int

	mu          sync.Mutex
	token       string
	tokenAt     time.Time
	lastRequest time.Time
	backoff     time.Duration // 当前退避值，成功后归零
}

// Options 客户端限流参数
type Options struct {
	MinInterval    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
}

// NewClient 创建 GPS51 客户端，password 传明文，内部做 md5
func NewClient(baseURL, username, password, from string, opts Options) *Client {
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 2 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}

	sum := md5.Sum([]byte(password))
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:        baseURL,
		username:       username,
		password:       hex.EncodeToString(sum[:]),
		from:           from,
		minInterval:    opts.MinInterval,
		backoffInitial: opts.BackoffInitial,
		backoffMax:     opts.BackoffMax,
		maxAttempts:    opts.MaxAttempts,
	}
}

// Authenticated 是否已持有 token
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// Login 登录并缓存 token
func (c *Client) Login(ctx context.Context) error {
	reqBody, _ := json.Marshal(loginRequest{
		Username: c.username,
		Password: c.password,
		From:     c.from,
		Type:     "USER",
	})

	resp, err := c.post(ctx, "login", "", reqBody)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var loginResp loginResponse
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if loginResp.Status != statusOK || loginResp.Token == "" {
		return fmt.Errorf("login rejected: status=%d message=%s", loginResp.Status, loginResp.Message)
	}

	c.mu.Lock()
	c.token = loginResp.Token
	c.tokenAt = time.Now()
	c.mu.Unlock()

	return nil
}

// LastPosition 批量获取设备最新位置。
// cursor 传上一次返回的游标，首次传 0。
func (c *Client) LastPosition(ctx context.Context, deviceIDs []string, cursor int64) ([]Record, int64, error) {
	reqBody, _ := json.Marshal(lastPositionRequest{
		DeviceIDs:             deviceIDs,
		LastQueryPositionTime: cursor,
	})

	env, err := c.doAction(ctx, "lastposition", reqBody)
	if err != nil {
		return nil, cursor, err
	}

	var records []Record
	if len(env.Records) > 0 {
		if err := json.Unmarshal(env.Records, &records); err != nil {
			return nil, cursor, fmt.Errorf("decode position records: %w", err)
		}
	}

	next := env.LastQueryPositionTime
	if next == 0 {
		next = cursor
	}
	return records, next, nil
}

// QueryTracks 查询设备在时间范围内的历史轨迹点
func (c *Client) QueryTracks(ctx context.Context, deviceID string, from, to time.Time) ([]Record, error) {
	reqBody, _ := json.Marshal(trackRequest{
		DeviceID:  deviceID,
		BeginTime: from.Format(timeLayout),
		EndTime:   to.Format(timeLayout),
		Timezone:  8,
	})

	env, err := c.doAction(ctx, "querytracks", reqBody)
	if err != nil {
		return nil, err
	}

	var records []Record
	if len(env.Records) > 0 {
		if err := json.Unmarshal(env.Records, &records); err != nil {
			return nil, fmt.Errorf("decode track records: %w", err)
		}
	}
	return records, nil
}

// QueryAccState 查询上游权威 ACC 开关区间
func (c *Client) QueryAccState(ctx context.Context, deviceID string, from, to time.Time) ([]AccRecord, error) {
	reqBody, _ := json.Marshal(trackRequest{
		DeviceID:  deviceID,
		BeginTime: from.Format(timeLayout),
		EndTime:   to.Format(timeLayout),
		Timezone:  8,
	})

	env, err := c.doAction(ctx, "queryaccstate", reqBody)
	if err != nil {
		return nil, err
	}

	var records []AccRecord
	if len(env.Records) > 0 {
		if err := json.Unmarshal(env.Records, &records); err != nil {
			return nil, fmt.Errorf("decode acc records: %w", err)
		}
	}
	return records, nil
}

// QueryDevices 获取账号下全部设备
func (c *Client) QueryDevices(ctx context.Context) ([]Device, error) {
	reqBody, _ := json.Marshal(monitorListRequest{Username: c.username})

	env, err := c.doAction(ctx, "querymonitorlist", reqBody)
	if err != nil {
		return nil, err
	}

	var groups []monitorGroup
	if len(env.Records) > 0 {
		if err := json.Unmarshal(env.Records, &groups); err != nil {
			return nil, fmt.Errorf("decode monitor list: %w", err)
		}
	}

	var devices []Device
	for _, g := range groups {
		devices = append(devices, g.Devices...)
	}
	return devices, nil
}

// doAction 执行一次业务请求：限流节流、限流退避重试、token 过期透明重登。
func (c *Client) doAction(ctx context.Context, action string, body []byte) (*envelope, error) {
	c.mu.Lock()
	token := c.token
	expired := token == "" || time.Since(c.tokenAt) > tokenLifetime-5*time.Minute
	c.mu.Unlock()

	if expired {
		if err := c.Login(ctx); err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}

	relogged := false
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		env, err := c.doOnce(ctx, action, token, body)
		if err == nil {
			return env, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrUnauthorized) && !relogged:
			// token 失效只重登一次，避免凭据错误时打爆登录接口
			relogged = true
			if loginErr := c.Login(ctx); loginErr != nil {
				return nil, fmt.Errorf("relogin after token expiry: %w", loginErr)
			}
			c.mu.Lock()
			token = c.token
			c.mu.Unlock()
		case errors.Is(err, ErrUnauthorized):
			return nil, err
		case errors.Is(err, ErrRateLimited) || isNetworkError(err):
			if waitErr := c.waitBackoff(ctx); waitErr != nil {
				return nil, waitErr
			}
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("%s: attempts exhausted: %w", action, lastErr)
}

// doOnce 单次请求，带节流
func (c *Client) doOnce(ctx context.Context, action, token string, body []byte) (*envelope, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, action, token, body)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", action, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// 正常
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s failed: status=%d body=%s", action, resp.StatusCode, string(respBody))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", action, err)
	}

	switch {
	case env.Status == statusOK:
		c.resetBackoff()
		return &env, nil
	case env.Status == statusTokenExpired || strings.Contains(strings.ToLower(env.Message), "token"):
		return nil, ErrUnauthorized
	case env.Status == statusRateLimited:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("%s rejected: status=%d message=%s", action, env.Status, env.Message)
	}
}

// post 发送 action 请求，token 放在查询串里（平台协议如此）
func (c *Client) post(ctx context.Context, action, token string, body []byte) (*http.Response, error) {
	q := url.Values{}
	q.Set("action", action)
	if token != "" {
		q.Set("token", token)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// throttle 保证请求之间的最小间隔，串行化出站调用
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	wait := c.minInterval - time.Since(c.lastRequest)
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// waitBackoff 指数退避，封顶 backoffMax
func (c *Client) waitBackoff(ctx context.Context) error {
	c.mu.Lock()
	if c.backoff == 0 {
		c.backoff = c.backoffInitial
	} else {
		c.backoff *= 2
		if c.backoff > c.backoffMax {
			c.backoff = c.backoffMax
		}
	}
	wait := c.backoff
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (c *Client) resetBackoff() {
	c.mu.Lock()
	c.backoff = 0
	c.mu.Unlock()
}

func isNetworkError(err error) bool {
	// http.Client 的传输层错误都会带 url.Error
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
