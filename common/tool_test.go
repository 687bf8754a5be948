package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	v, err := ParseSize("32MiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(32<<20), v)

	v, err = ParseSize("64k")
	require.NoError(t, err)
	assert.Equal(t, uint64(64<<10), v)

	_, err = ParseSize("lots")
	assert.Error(t, err)
}

func TestAlignUpAndFormat(t *testing.T) {
	assert.Equal(t, uint64(0x1000), AlignUp(1, 0x1000))
	assert.Equal(t, uint64(0x2000), AlignUp(0x2000, 0x1000))
	assert.Equal(t, "0x80003100", Hex32(0x80003100))
	assert.Equal(t, "0x00000400", Hex32(0x400))
	assert.Equal(t, "32MiB", HumanSize(32<<20))
}

func TestPaint(t *testing.T) {
	saved := NoColor
	defer func() { NoColor = saved }()

	NoColor = false
	assert.Equal(t, ColorRed+"fault"+ColorReset, Paint(ColorRed, "fault"))
	assert.Empty(t, Paint(ColorRed, ""))
	NoColor = true
	assert.Equal(t, "fault", Paint(ColorRed, "fault"))
}
