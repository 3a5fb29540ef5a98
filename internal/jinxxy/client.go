package jinxxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultBaseURL 是 Jinxxy creator API 的根地址。
const DefaultBaseURL = "https://api.creators.jinxxy.com/v1/"

// maxErrorBody 限制错误日志中保留的正文长度。
const maxErrorBody = 4096

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	// 上游在 HTTP/2 多路复用下表现更差，统一走 HTTP/1.1。
	ForceAttemptHTTP2: false,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Options 控制 Client 的构造参数，零值字段使用默认值。
type Options struct {
	BaseURL string
	Timeout time.Duration
	// QPS 限制单个进程对上游的请求速率；0 表示不限速。
	QPS float64
	// ParallelFetchLimit 是并行拉取完整产品时的最大并发数。
	ParallelFetchLimit int
	Logger             logrus.FieldLogger
	HTTPClient         *http.Client
}

// Client 封装 Jinxxy 产品相关的只读接口。
type Client struct {
	baseURL       *url.URL
	http          *http.Client
	limiter       *rate.Limiter
	parallelLimit int
	logger        logrus.FieldLogger
}

// NewClient 根据 Options 构建共享客户端，整站复用一份实例。
func NewClient(opts Options) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid jinxxy base url: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := 30 * time.Second
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: defaultTransport.Clone(),
		}
	}

	var limiter *rate.Limiter
	if opts.QPS > 0 {
		burst := int(opts.QPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.QPS), burst)
	}

	parallel := opts.ParallelFetchLimit
	if parallel <= 0 {
		parallel = 8
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Client{
		baseURL:       base,
		http:          httpClient,
		limiter:       limiter,
		parallelLimit: parallel,
		logger:        logger,
	}, nil
}

// ListProducts 返回账号下全部产品，不含版本信息。
func (c *Client) ListProducts(ctx context.Context, apiKey string) ([]PartialProduct, error) {
	var list productList
	if err := c.getJSON(ctx, apiKey, "GET /products", "products", &list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

// GetProduct 查询单个产品及其版本。
func (c *Client) GetProduct(ctx context.Context, apiKey, productID string) (FullProduct, error) {
	var product FullProduct
	path := "products/" + url.PathEscape(productID)
	if err := c.getJSON(ctx, apiKey, "GET /products/<id>", path, &product); err != nil {
		return FullProduct{}, err
	}
	return product, nil
}

// GetFullProducts 先列出产品，再逐个补全版本信息。每个产品都需要一次 API 调用，代价很高。
//
// parallel 为 true 时以 ParallelFetchLimit 为上限并发拉取，任一失败即整体失败；
// 为 false 时逐个串行拉取，对上游压力最小。结果顺序与列表顺序一致。
func (c *Client) GetFullProducts(ctx context.Context, apiKey string, parallel bool) ([]FullProduct, error) {
	partials, err := c.ListProducts(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	products := make([]FullProduct, len(partials))
	if !parallel {
		for i, partial := range partials {
			product, err := c.GetProduct(ctx, apiKey, partial.ID)
			if err != nil {
				return nil, err
			}
			products[i] = product
		}
		return products, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelLimit)
	for i, partial := range partials {
		i, productID := i, partial.ID
		g.Go(func() error {
			product, err := c.GetProduct(gctx, apiKey, productID)
			if err != nil {
				return err
			}
			products[i] = product
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) getJSON(ctx context.Context, apiKey, endpoint, path string, out interface{}) error {
	if apiKey == "" {
		return ErrEmptyAPIKey
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
	}

	target := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"action":     "jinxxy_request",
		"endpoint":   endpoint,
		"status":     resp.StatusCode,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("jinxxy_request_complete")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newAPIError(endpoint, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}
