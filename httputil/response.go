package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	riskControlCode    = 1001
	riskControlMessage = "系统繁忙"
)

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if len(respBody) == 0 {
		return nil, errors.New("unexpected empty response body")
	}

	return respBody, nil
}

// IsRiskControlResponse reports whether a 200 response body carries the
// anti-automation busy signal instead of a payload.
func IsRiskControlResponse(b []byte) bool {
	if !gjson.ValidBytes(b) {
		return false
	}

	res := gjson.GetManyBytes(b, "ret", "msg")
	if ret := res[0]; ret.Type == gjson.Number && ret.Int() == riskControlCode {
		return true
	}

	return strings.Contains(res[1].String(), riskControlMessage)
}

// Snippet returns at most n bytes of b for logging.
func Snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n]) + "..."
}
