// Package acquisition 链接识别与正文获取
package acquisition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"timeline-rag-api/internal/config"
	apperrors "timeline-rag-api/pkg/errors"
	"timeline-rag-api/pkg/logger"
)

// DefaultMinContentRunes 正文最少字符数
const DefaultMinContentRunes = 100

// LinkKind 链接类型
type LinkKind string

const (
	KindDouyin   LinkKind = "douyin"
	KindBilibili LinkKind = "bilibili"
	KindWeb      LinkKind = "web"
)

var linkPattern = regexp.MustCompile(`https?://[^\s]+`)

// DetectLink 返回文本中的第一个链接
func DetectLink(text string) (string, bool) {
	link := linkPattern.FindString(text)
	return link, link != ""
}

// ClassifyLink 判断链接类型；非 http(s) 或无法解析的链接返回 CodeUnsupportedLink
func ClassifyLink(link string) (LinkKind, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperrors.ErrUnsupportedLink.WithDetail(link)
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case hostIs(host, "douyin.com"), hostIs(host, "iesdouyin.com"):
		return KindDouyin, nil
	case hostIs(host, "bilibili.com"), hostIs(host, "b23.tv"):
		return KindBilibili, nil
	}
	return KindWeb, nil
}

func hostIs(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Content 获取到的正文
type Content struct {
	Link  string
	Kind  LinkKind
	Title string
	Text  string
}

// Client 正文获取客户端。网页直接抓取并抽取可见文本；抖音、B 站交给外部转写服务。
type Client struct {
	http      *http.Client
	maxBody   int64
	userAgent string
	endpoints map[LinkKind]string
	minRunes  int
}

// NewClient 创建客户端；minRunes <= 0 时使用 DefaultMinContentRunes
func NewClient(cfg *config.AcquisitionConfig, minRunes int) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		maxBody:   5 << 20,
		userAgent: "timeline-rag-api/1.0",
		endpoints: map[LinkKind]string{},
		minRunes:  minRunes,
	}
	if c.minRunes <= 0 {
		c.minRunes = DefaultMinContentRunes
	}
	if cfg == nil {
		return c
	}
	if cfg.Timeout > 0 {
		c.http.Timeout = cfg.Timeout
	}
	if cfg.MaxBodyBytes > 0 {
		c.maxBody = cfg.MaxBodyBytes
	}
	if cfg.UserAgent != "" {
		c.userAgent = cfg.UserAgent
	}
	if cfg.DouyinEndpoint != "" {
		c.endpoints[KindDouyin] = cfg.DouyinEndpoint
	}
	if cfg.BilibiliEndpoint != "" {
		c.endpoints[KindBilibili] = cfg.BilibiliEndpoint
	}
	return c
}

// WithHTTPClient 替换底层 HTTP 客户端
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// MinRunes 正文最少字符数
func (c *Client) MinRunes() int { return c.minRunes }

// Validate 检查正文长度
func (c *Client) Validate(text string) error {
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < c.minRunes {
		return apperrors.ErrContentTooShort.WithDetail(fmt.Sprintf("%d < %d characters", n, c.minRunes))
	}
	return nil
}

// Fetch 获取链接正文
func (c *Client) Fetch(ctx context.Context, link string) (*Content, error) {
	ctx, span := otel.Tracer("acquisition").Start(ctx, "acquisition.Fetch")
	defer span.End()

	kind, err := ClassifyLink(link)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("link.kind", string(kind)))

	content := &Content{Link: link, Kind: kind}
	switch kind {
	case KindWeb:
		content.Title, content.Text, err = c.fetchPage(ctx, link)
	default:
		endpoint, ok := c.endpoints[kind]
		if !ok {
			return nil, apperrors.ErrUnsupportedLink.WithDetail(fmt.Sprintf("no extractor configured for %s", kind))
		}
		content.Title, content.Text, err = c.fetchViaExtractor(ctx, endpoint, link)
	}
	if err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "content acquisition failed", "kind", string(kind), "error", err.Error())
		return nil, err
	}
	if err := c.Validate(content.Text); err != nil {
		return nil, err
	}
	return content, nil
}

func (c *Client) fetchPage(ctx context.Context, link string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", "", apperrors.ErrUnsupportedLink.WithError(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	body, err := c.do(req)
	if err != nil {
		return "", "", err
	}
	title, text, err := ExtractText(bytes.NewReader(body))
	if err != nil {
		return "", "", apperrors.ErrAcquisitionFailed.WithError(err)
	}
	return title, text, nil
}

// fetchViaExtractor POST {"url": link}，响应 {"text": ..., "title": ...}
func (c *Client) fetchViaExtractor(ctx context.Context, endpoint, link string) (string, string, error) {
	payload, err := json.Marshal(map[string]string{"url": link})
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", "", apperrors.ErrAcquisitionFailed.WithError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	body, err := c.do(req)
	if err != nil {
		return "", "", err
	}
	if !gjson.ValidBytes(body) {
		return "", "", apperrors.ErrAcquisitionFailed.WithDetail("extractor returned invalid json")
	}
	res := gjson.ParseBytes(body)
	text := res.Get("text")
	if !text.Exists() {
		text = res.Get("data.text")
	}
	return strings.TrimSpace(res.Get("title").String()), strings.TrimSpace(text.String()), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.ErrAcquisitionFailed.WithError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, apperrors.ErrAcquisitionFailed.WithDetail(fmt.Sprintf("%s returned %d", req.URL.Host, resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, apperrors.ErrAcquisitionFailed.WithError(err)
	}
	return body, nil
}
