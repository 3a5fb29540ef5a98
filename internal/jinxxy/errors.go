package jinxxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyAPIKey 表示调用方未提供凭证。
var ErrEmptyAPIKey = errors.New("jinxxy: empty api key")

// APIError 描述一次非 2xx 的上游响应。
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string

	parsed *errorBody
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned status code %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// LooksLike403 判断响应是否等价于 403。Jinxxy 经常以 500 + JSON 正文表达鉴权失败。
func (e *APIError) LooksLike403() bool {
	if e.StatusCode == http.StatusForbidden {
		return true
	}
	if e.parsed == nil {
		return false
	}
	return e.parsed.StatusCode == http.StatusForbidden ||
		(e.parsed.Error == "Bad Request" && e.parsed.Message == "You are not authorized.")
}

// LooksLike404 判断响应是否等价于 404，规则同 LooksLike403。
func (e *APIError) LooksLike404() bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	if e.parsed == nil {
		return false
	}
	return e.parsed.StatusCode == http.StatusNotFound ||
		(e.parsed.Error == "Bad Request" && e.parsed.Message == "Resource not found.")
}

func newAPIError(endpoint string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Endpoint:   endpoint,
		StatusCode: status,
		Body:       string(body),
	}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.parsed = &parsed
	}
	return apiErr
}
