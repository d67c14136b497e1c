package node

import "strings"

func IsResponseFormatUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "response_format"):
		return true
	case strings.Contains(msg, "json_object") && strings.Contains(msg, "support"):
		return true
	case strings.Contains(msg, "unknown parameter") && strings.Contains(msg, "response"):
		return true
	case strings.Contains(msg, "invalid") && strings.Contains(msg, "response"):
		return true
	default:
		return false
	}
}

// IsNonRetryableLLMError 判断供应商返回的错误是否重试无意义（鉴权、参数类错误）
func IsNonRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"status code: 400", "status code: 401", "status code: 403", "status code: 404", "status code: 422",
		"invalid_api_key", "invalid api key", "model_not_found", "context_length_exceeded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
