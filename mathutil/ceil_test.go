package mathutil_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/xmfetch/mathutil"
)

func TestDivCeil(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, expected int
	}{
		{1, 1, 1},
		{1, 2, 1},
		{2, 1, 2},
		{41, 20, 3},
		{40, 20, 2},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("a=%d,b=%d", test.a, test.b), func(t *testing.T) {
			t.Parallel()

			assert.Exactly(t, test.expected, mathutil.DivCeil(test.a, test.b))
		})
	}
}

func TestPageCount(t *testing.T) {
	t.Parallel()

	assert.Exactly(t, 0, mathutil.PageCount(0, 20))
	assert.Exactly(t, 1, mathutil.PageCount(1, 20))
	assert.Exactly(t, 5, mathutil.PageCount(100, 20))
	assert.Exactly(t, int64(6), mathutil.PageCount(int64(101), int64(20)))
}
