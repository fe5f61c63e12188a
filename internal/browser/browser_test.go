package browser

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "en-AU", opts.Locale)
}

func TestBrowserLoad(t *testing.T) {
	if os.Getenv("PLAYWRIGHT_TESTS") == "" {
		t.Skip("Skipping browser test: set PLAYWRIGHT_TESTS=1 with browsers installed")
	}

	b, err := New(DefaultOptions(), nil)
	require.NoError(t, err)
	defer b.Close()

	snap, err := b.Load(context.Background(), "data:text/html,<title>Nursery</title><h1>Plants</h1>", LoadOptions{ScrollPasses: 1})
	require.NoError(t, err)
	assert.Equal(t, "Nursery", snap.Title)
	assert.Contains(t, snap.HTML, "<h1>Plants</h1>")

	require.NoError(t, b.Close())
	_, err = b.Load(context.Background(), "about:blank", LoadOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}
