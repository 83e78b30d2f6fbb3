package plugins

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fablink/internal/connector"
	"fablink/internal/connector/connectortest"
	"fablink/internal/model"
)

func TestBundleLoaderStagesClientScripts(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	fake.DownloadFn = func(ctx context.Context, req connector.DownloadRequest) ([]byte, error) {
		return []byte("export default {}"), nil
	}
	fs := afero.NewMemMapFs()
	store := model.NewStore()
	b := NewBundleLoader(fake, store, fs, "/var/lib/fablink/plugins", zap.NewNop())

	plugin := &model.Plugin{
		ID:    "demo-pane",
		Files: []string{"demo-pane/demo-pane.js", "demo-pane/README.md"},
	}
	require.NoError(t, b.LoadClientResources(context.Background(), plugin))

	// Only the script is fetched, resolved against the machine's plugin
	// directory.
	require.Len(t, fake.Downloads, 1)
	require.Equal(t, "0:/plugins/demo-pane/demo-pane.js", fake.Downloads[0].Filename)
	require.Equal(t, connector.TypeBlob, fake.Downloads[0].Type)

	staged, err := afero.ReadFile(fs, "/var/lib/fablink/plugins/demo-pane/demo-pane.js")
	require.NoError(t, err)
	require.Equal(t, []byte("export default {}"), staged)
}

func TestBundleLoaderPropagatesFetchErrors(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	fake.DownloadFn = func(ctx context.Context, req connector.DownloadRequest) ([]byte, error) {
		return nil, fmt.Errorf("%w: machine went away", connector.ErrDisconnected)
	}
	b := NewBundleLoader(fake, model.NewStore(), afero.NewMemMapFs(), "/tmp/stage", zap.NewNop())

	plugin := &model.Plugin{ID: "demo-pane", Files: []string{"demo-pane.js"}}
	err := b.LoadClientResources(context.Background(), plugin)
	require.ErrorIs(t, err, connector.ErrDisconnected)
}
