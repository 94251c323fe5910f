package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

func TestDetect(t *testing.T) {
	if testing.Short() {
		t.Skip("加载语言模型较慢")
	}

	d, err := Detect("ollama", "Dies ist ein deutscher Satz über das Wetter.")
	require.NoError(t, err)
	assert.Equal(t, "de", d.Language)
	assert.Greater(t, d.Confidence, 0.0)
	assert.LessOrEqual(t, d.Confidence, 1.0)
}

func TestDetectTooShort(t *testing.T) {
	_, err := Detect("ollama", " 1 ")
	require.Error(t, err)
	assert.Equal(t, providers.KindInvalidRequest, providers.KindOf(err))
}
