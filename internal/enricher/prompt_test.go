package enricher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("нефть подорожала на 5% за день because of supply cuts", 30)
	require.Len(t, msgs, 2)

	assert.Equal(t, "system", msgs[0].Role)
	for _, cat := range Categories {
		assert.Contains(t, msgs[0].Content, `"`+cat+`"`)
	}

	assert.Equal(t, "user", msgs[1].Role)
	assert.LessOrEqual(t, len([]rune(msgs[1].Content)), 30)
	assert.False(t, strings.HasSuffix(msgs[1].Content, " "))
}

func TestNormalizeKeywords(t *testing.T) {
	got := normalizeKeywords([]string{" Нефть ", "нефть", "OPEC", "", "opec"})
	assert.Equal(t, []string{"нефть", "opec"}, got)
}
