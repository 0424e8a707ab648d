package capture

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageURL(t *testing.T) {
	o, err := Options{BaseURL: "http://127.0.0.1:8080/", OutputPath: "x.png"}.withDefaults()
	require.NoError(t, err)

	raw, err := o.PageURL()
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/calendar", u.Path)
	assert.Equal(t, "1200", u.Query().Get("width"))
	assert.Equal(t, "880", u.Query().Get("height"))
	assert.Nil(t, u.User)

	o.Username, o.Password = "u", "p w"
	raw, err = o.PageURL()
	require.NoError(t, err)
	u, err = url.Parse(raw)
	require.NoError(t, err)
	pw, _ := u.User.Password()
	assert.Equal(t, "p w", pw)
}

func TestSnapshotValidatesOptions(t *testing.T) {
	ctx := context.Background()
	assert.ErrorContains(t, Snapshot(ctx, Options{OutputPath: "x.png"}), "base URL")
	assert.ErrorContains(t, Snapshot(ctx, Options{BaseURL: "http://localhost"}), "output path")
	assert.Error(t, Snapshot(ctx, Options{BaseURL: "://bad", OutputPath: "x.png"}))
}
