package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslations(t *testing.T) {
	require.NoError(t, Initialize("en"))

	assert.Equal(t, "Authentication required", T("en", KeyAuthRequired))
	assert.Equal(t, "需要身份驗證", T("zh_TW", KeyAuthRequired))
	assert.Equal(t, "The requested license was not found", T("en", KeyErrorNotFound, "license"))
	assert.Equal(t, "Authentication required", T("fr", KeyAuthRequired), "unknown languages fall back to the default")
	assert.Equal(t, "no.such.key", T("en", "no.such.key"))
	assert.ElementsMatch(t, []string{"en", "zh_TW"}, GetSupportedLanguages())
}
