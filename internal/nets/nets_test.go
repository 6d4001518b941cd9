package nets

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/slim-eval/internal/preprocessing"
)

func TestGetInceptionV3(t *testing.T) {
	n, err := Get("inception_v3", 5, false)
	require.NoError(t, err)
	require.Equal(t, 299, n.DefaultImageSize)
	require.Equal(t, 5, n.NumClasses)
	require.Equal(t, 299, n.ImageSize(0))
	require.Equal(t, 160, n.ImageSize(160))
}

func TestGetUnknown(t *testing.T) {
	_, err := Get("transformer", 5, false)
	require.Error(t, err)
}

func TestGetRejectsEmptyHead(t *testing.T) {
	_, err := Get("vgg_16", 0, false)
	require.Error(t, err)
}

func TestEveryNetworkHasPreprocessing(t *testing.T) {
	for _, name := range Names() {
		_, err := preprocessing.Get(name, false)
		require.NoError(t, err, name)
	}
}
