package bundler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeMessageMarker(t *testing.T) {
	message, err := DecodeMessage([]byte(`"Webpack compilation complete."`), DefaultCompleteMessage)
	require.NoError(t, err)
	require.True(t, message.Done)
	require.Nil(t, message.Payload)
}

func TestDecodeMessageUnknownMarker(t *testing.T) {
	_, err := DecodeMessage([]byte(`"Something else entirely."`), DefaultCompleteMessage)
	require.Error(t, err)
}

func TestDecodeMessagePayload(t *testing.T) {
	line := []byte(`{"emittedFiles":["bundle.js","vendor.js"],"chunkFiles":["vendor.js"],"hash":"abc"}`)
	message, err := DecodeMessage(line, DefaultCompleteMessage)
	require.NoError(t, err)
	require.False(t, message.Done)
	require.Equal(t, []string{"bundle.js", "vendor.js"}, message.Payload.EmittedFiles)
	require.Equal(t, []string{"vendor.js"}, message.Payload.ChunkFiles)
	require.Equal(t, "abc", message.Payload.Hash)
}

func TestDecodeMessageRejectsUnknownFields(t *testing.T) {
	line := []byte(`{"emittedFiles":[],"chunkFiles":[],"hash":"a","extra":1}`)
	_, err := DecodeMessage(line, DefaultCompleteMessage)
	require.Error(t, err)
}

func TestDecodeMessageRejectsTrailingData(t *testing.T) {
	line := []byte(`{"emittedFiles":[],"chunkFiles":[],"hash":"a"}{"hash":"b"}`)
	_, err := DecodeMessage(line, DefaultCompleteMessage)
	require.Error(t, err)
}

func TestDecodeMessageEmptyLine(t *testing.T) {
	_, err := DecodeMessage([]byte("   "), DefaultCompleteMessage)
	require.Error(t, err)
}

func TestBuildEnvFlags(t *testing.T) {
	flags := BuildEnvFlags(map[string]any{
		"platform":      "ios",
		"production":    true,
		"sourceMap":     false,
		"externals":     []string{"nativescript-vue", "tns-core-modules"},
		"maxWorkers":    4,
		"appComponents": []any{"activity", "service"},
	})
	require.Equal(t, []string{
		"--env.appComponents=activity",
		"--env.appComponents=service",
		"--env.externals=nativescript-vue",
		"--env.externals=tns-core-modules",
		"--env.maxWorkers=4",
		"--env.platform=ios",
		"--env.production",
	}, flags)
}

func TestBuildEnvFlagsEmpty(t *testing.T) {
	require.Nil(t, BuildEnvFlags(nil))
	require.Nil(t, BuildEnvFlags(map[string]any{}))
}
