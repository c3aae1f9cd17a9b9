package naming

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandom(t *testing.T) {
	a, err := Generate(StrategyRandom, 12, "ignored.txt")
	require.NoError(t, err)
	b, err := Generate(StrategyRandom, 12, "ignored.txt")
	require.NoError(t, err)

	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[a-zA-Z0-9]{12}$`, a)
}

func TestGenerateZeroWidth(t *testing.T) {
	name, err := Generate(StrategyZeroWidth, 6, "")
	require.NoError(t, err)
	assert.Equal(t, 6, utf8.RuneCountInString(name))
	for _, r := range name {
		assert.Contains(t, zeroWidth, r)
	}
}

func TestGenerateName(t *testing.T) {
	name, err := Generate(StrategyName, 10, "../holiday photo.JPG")
	require.NoError(t, err)
	assert.Equal(t, "holiday photo", name)

	fallback, err := Generate(StrategyName, 5, "")
	require.NoError(t, err)
	assert.Len(t, fallback, 5)
}

func TestGenerateLengthBounds(t *testing.T) {
	name, err := Generate(StrategyRandom, 0, "")
	require.NoError(t, err)
	assert.Len(t, name, DefaultLength)

	name, err = Generate(StrategyRandom, 1000, "")
	require.NoError(t, err)
	assert.Len(t, name, maxLength)
}

func TestParse(t *testing.T) {
	assert.Equal(t, StrategyZeroWidth, Parse("ZeroWidth"))
	assert.Equal(t, StrategyName, Parse("name"))
	assert.Equal(t, StrategyRandom, Parse("whatever"))
}

func TestSanitizeAndExtension(t *testing.T) {
	assert.Equal(t, "report", Sanitize(`C:\docs\report.pdf`))
	assert.Equal(t, "", Sanitize(""))
	assert.Equal(t, "a.png", WithExtension("a", ".png"))
	assert.Equal(t, "a", WithExtension("a", ""))
}
