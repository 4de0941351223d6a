package svgapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"svgstudio/internal/domain"
)

// errorBody covers the error shapes the backend and its proxies emit. Scalar
// fields stay raw so a number where a string was expected, or the reverse,
// does not lose the rest of the body.
type errorBody struct {
	Message    json.RawMessage `json:"message"`
	Code       json.RawMessage `json:"code"`
	Error      json.RawMessage `json:"error"`
	RetryAfter json.RawMessage `json:"retryAfter"`
	Errors     []struct {
		Message json.RawMessage `json:"message"`
	} `json:"errors"`
}

// decodeError normalizes a non-2xx response into *domain.RateLimitError or
// *domain.APIError.
func decodeError(resp *http.Response, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	message, code := extractMessage(body)
	if message == "" {
		message = statusText(resp)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if retryAfter == 0 {
			if secs, err := strconv.ParseFloat(scalarText(body.RetryAfter), 64); err == nil && secs > 0 {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return &domain.RateLimitError{RetryAfter: retryAfter, Message: message}
	}
	return &domain.APIError{Status: resp.StatusCode, Code: code, Message: message}
}

func extractMessage(body errorBody) (string, string) {
	code := scalarText(body.Code)
	if msg := scalarText(body.Message); msg != "" {
		return msg, code
	}
	if len(body.Error) > 0 {
		if text := scalarText(body.Error); text != "" {
			return text, code
		}
		var nested struct {
			Message json.RawMessage `json:"message"`
			Code    json.RawMessage `json:"code"`
		}
		if err := json.Unmarshal(body.Error, &nested); err == nil {
			if msg := scalarText(nested.Message); msg != "" {
				if code == "" {
					code = scalarText(nested.Code)
				}
				return msg, code
			}
		}
	}
	for _, e := range body.Errors {
		if msg := scalarText(e.Message); msg != "" {
			return msg, code
		}
	}
	return "", code
}

// scalarText renders a JSON string, number or bool as trimmed text. Objects,
// arrays and null yield "".
func scalarText(raw json.RawMessage) string {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return ""
		}
		return strings.TrimSpace(text)
	case '{', '[', 'n':
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	if status := strings.TrimSpace(resp.Status); status != "" {
		return status
	}
	return "request failed with status " + strconv.Itoa(resp.StatusCode)
}

// parseRetryAfter reads delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
