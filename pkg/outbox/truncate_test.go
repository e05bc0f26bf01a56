package outbox

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateErrorFitsColumn(t *testing.T) {
	t.Parallel()

	require.Empty(t, truncateError(nil, 10))
	require.Equal(t, "hello", truncateError(errors.New("hello world"), 5))
	require.Equal(t, "hello", truncateError(errors.New("hello"), 64))

	// Never splits a multi-byte rune.
	long := strings.Repeat("é", 100)
	got := truncateError(errors.New(long), 7)
	require.LessOrEqual(t, len(got), 7)
	require.Equal(t, "ééé", got)
}
