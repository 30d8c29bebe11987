package redact_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/xmfetch/redact"
)

func TestString(t *testing.T) {
	t.Parallel()

	assert.Exactly(t, "", redact.String(""))
	assert.Exactly(t, "ab****gh", redact.String("abcdefgh"))
	assert.NotContains(t, redact.String("supersecretvalue"), "secret")
}

func TestCookie(t *testing.T) {
	t.Parallel()

	got := redact.Cookie("1&_token=abcdefgh; xm-page-viewid=12345678")
	assert.Exactly(t, "1&_token=ab****gh; xm-page-viewid=12****78", got)
	assert.Exactly(t, "", redact.Cookie(""))
}
