package unit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/xmfetch/unit"
)

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	assert.Exactly(t, "0 B", unit.FormatBytes(0))
	assert.Exactly(t, "1023 B", unit.FormatBytes(1023))
	assert.Exactly(t, "1.00 KiB", unit.FormatBytes(unit.Kibibyte))
	assert.Exactly(t, "32.00 KiB", unit.FormatBytes(32*unit.Kibibyte))
	assert.Exactly(t, "1.50 MiB", unit.FormatBytes(unit.Mebibyte+unit.Mebibyte/2))
	assert.Exactly(t, "2.00 GiB", unit.FormatBytes(2*unit.Gibibyte))
}
