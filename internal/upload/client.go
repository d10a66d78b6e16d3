/**
 * Package upload 把截图上传到分析后端
 *
 * 请求为 multipart/form-data，凭据以请求头透传，本包不解析凭据内容。
 * 上传结果被归类为 Outcome，供状态总线展示。
 */
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/chenyang-zz/quickcapture/pkg/logger"
	"go.uber.org/zap"
)

const (
	// UploadPath 截图上传接口
	UploadPath = "/upload-screenshot"

	// HealthPath 健康检查接口
	HealthPath = "/health"

	// DefaultTimeout 后端需要做 AI 分析，超时较长
	DefaultTimeout = 60 * time.Second

	fieldName = "screenshot"
	fileName  = "screenshot.png"

	headerNotionKey    = "X-Notion-Api-Key"
	headerNotionPage   = "X-Notion-Page-Id"
	headerGoogleTokens = "X-Google-Tokens"

	// maxResponseBytes 响应体读取上限
	maxResponseBytes = 1 << 20
)

// ErrServiceUnavailable 后端没有运行（连接被拒绝）
var ErrServiceUnavailable = errors.New("capture service unavailable")

// StatusError 非 2xx 响应
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Credentials 透传给后端的凭据
//
// 字段为空时不发送对应请求头。
type Credentials struct {
	NotionAPIKey string
	NotionPageID string

	// GoogleTokens JSON 字符串，原样透传
	GoogleTokens string
}

// CredentialSource 每次上传时读取最新凭据
type CredentialSource func() Credentials

// Client 后端客户端
type Client struct {
	mu      sync.RWMutex
	baseURL string

	http  *http.Client
	creds CredentialSource
}

// NewClient 创建客户端
//
// Parameters:
//   - baseURL: 后端地址，如 http://127.0.0.1:8000
//   - timeout: 单次请求超时，<= 0 时使用 DefaultTimeout
//   - creds: 凭据来源，可以为 nil
func NewClient(baseURL string, timeout time.Duration, creds CredentialSource) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if creds == nil {
		creds = func() Credentials { return Credentials{} }
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
	}
}

// BaseURL 当前后端地址
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL 替换后端地址，配置热加载时使用
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// Upload 上传截图并解析响应
//
// 2xx 且响应体为空或无法解析时返回 (nil, nil)。
func (c *Client) Upload(ctx context.Context, image []byte) (*Result, error) {
	body, contentType, err := buildBody(image)
	if err != nil {
		return nil, err
	}

	endpoint := c.BaseURL() + UploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	creds := c.creds()
	setHeader(req, headerNotionKey, creds.NotionAPIKey)
	setHeader(req, headerNotionPage, creds.NotionPageID)
	setHeader(req, headerGoogleTokens, creds.GoogleTokens)

	fields := []zap.Field{
		zap.String("component", "upload"),
		zap.String("endpoint", endpoint),
		zap.Int("bytes", len(image)),
		zap.Bool("google_tokens", creds.GoogleTokens != ""),
	}
	if creds.NotionAPIKey != "" {
		fields = append(fields, zap.String("notion_key", logger.RedactKey(creds.NotionAPIKey)))
	}
	logger.Debug("发送截图", fields...)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		logger.Warn("响应无法解析",
			zap.String("component", "upload"),
			zap.Error(err),
		)
		return nil, nil
	}
	return &result, nil
}

// Submit 上传截图并归类结果，不返回错误
//
// 不做重试：失败对本次截图是终态。
func (c *Client) Submit(ctx context.Context, image []byte) Outcome {
	start := time.Now()
	result, err := c.Upload(ctx, image)
	outcome := Classify(result, err, c.BaseURL())

	fields := []zap.Field{
		zap.String("component", "upload"),
		zap.String("kind", string(outcome.Kind)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if result != nil {
		fields = append(fields, zap.String("category", result.Category))
		if link := result.CalendarLink(); link != "" {
			fields = append(fields, zap.String("calendar_link", link))
		}
		if url := result.NotionPageURL(); url != "" {
			fields = append(fields, zap.String("notion_page_url", url))
		}
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		logger.Warn("截图上传失败", fields...)
	} else {
		logger.Info("截图上传完成", fields...)
	}
	return outcome
}

// Ping 探测后端健康检查接口
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL()+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if !health.OK {
		return errors.New("capture service reported not ok")
	}
	return nil
}

// buildBody 构造只有一个 screenshot 文件分段的表单
func buildBody(image []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fieldName, fileName))
	header.Set("Content-Type", "image/png")

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("write image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func setHeader(req *http.Request, key, value string) {
	if value != "" {
		req.Header.Set(key, value)
	}
}
