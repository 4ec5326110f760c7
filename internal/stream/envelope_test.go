package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloReply = `Hi there!<GRANDMA_METADATA>{"document_id":42}</GRANDMA_METADATA>`

func TestDecoderStripsEnvelopeInTwoChunks(t *testing.T) {
	d := NewDecoder(DefaultMarkers)

	u := d.Write([]byte("Hi "))
	require.Equal(t, "Hi ", u.Content)
	require.Empty(t, u.DocumentID)

	u = d.Write([]byte(`there!<GRANDMA_METADATA>{"document_id":42}</GRANDMA_METADATA>`))
	require.NoError(t, u.Err)
	require.Equal(t, "Hi there!", u.Content)
	require.Equal(t, "42", u.DocumentID)

	content, id := d.Finish()
	require.Equal(t, "Hi there!", content)
	require.Equal(t, "42", id)
}

func TestDecoderSplitAtEveryBoundary(t *testing.T) {
	for i := 0; i <= len(helloReply); i++ {
		d := NewDecoder(DefaultMarkers)

		first := d.Write([]byte(helloReply[:i]))
		require.True(t, strings.HasPrefix("Hi there!", first.Content), "split %d leaked %q", i, first.Content)

		second := d.Write([]byte(helloReply[i:]))
		require.Equal(t, "Hi there!", second.Content, "split %d", i)
		require.Equal(t, "42", second.DocumentID, "split %d", i)

		content, id := d.Finish()
		require.Equal(t, "Hi there!", content, "split %d", i)
		require.Equal(t, "42", id, "split %d", i)
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	d := NewDecoder(DefaultMarkers)
	for i := 0; i < len(helloReply); i++ {
		u := d.Write([]byte{helloReply[i]})
		require.NotContains(t, u.Content, "<")
	}
	content, id := d.Finish()
	require.Equal(t, "Hi there!", content)
	require.Equal(t, "42", id)
}

func TestDecoderStringDocumentID(t *testing.T) {
	d := NewDecoder(DefaultMarkers)
	u := d.Write([]byte(`ok<GRANDMA_METADATA>{"document_id":"doc-7"}</GRANDMA_METADATA>`))
	require.Equal(t, "ok", u.Content)
	require.Equal(t, "doc-7", u.DocumentID)
}

func TestDecoderBadPayloadKeepsContent(t *testing.T) {
	d := NewDecoder(DefaultMarkers)
	u := d.Write([]byte(`answer<GRANDMA_METADATA>not json</GRANDMA_METADATA>`))
	require.Error(t, u.Err)
	require.Equal(t, "answer", u.Content)
	require.Empty(t, u.DocumentID)

	content, id := d.Finish()
	require.Equal(t, "answer", content)
	require.Empty(t, id)
}

func TestDecoderNullIDDoesNotDowngrade(t *testing.T) {
	d := NewDecoder(DefaultMarkers)
	d.Write([]byte(`a<GRANDMA_METADATA>{"document_id":1}</GRANDMA_METADATA>`))
	u := d.Write([]byte(`<GRANDMA_METADATA>{"document_id":null}</GRANDMA_METADATA>`))
	require.Equal(t, "1", u.DocumentID)
}

func TestDecoderUnterminatedEnvelopeIsDropped(t *testing.T) {
	d := NewDecoder(DefaultMarkers)
	u := d.Write([]byte(`partial reply<GRANDMA_METADATA>{"document_id":`))
	require.Equal(t, "partial reply", u.Content)

	content, id := d.Finish()
	require.Equal(t, "partial reply", content)
	require.Empty(t, id)
}

func TestDecoderMarkerLookalikeIsReleased(t *testing.T) {
	d := NewDecoder(DefaultMarkers)
	u := d.Write([]byte("a <GRAND"))
	require.Equal(t, "a ", u.Content)

	u = d.Write([]byte("PA> b"))
	require.Equal(t, "a <GRANDPA> b", u.Content)
}

func TestDecoderHoldsIncompleteUTF8(t *testing.T) {
	raw := []byte("你好")
	d := NewDecoder(DefaultMarkers)

	u := d.Write(raw[:4])
	require.Equal(t, "你", u.Content)

	u = d.Write(raw[4:])
	require.Equal(t, "你好", u.Content)
}

func TestDecoderCustomMarkers(t *testing.T) {
	d := NewDecoder(Markers{Start: "[[meta]]", End: "[[/meta]]"})
	u := d.Write([]byte(`text[[meta]]{"document_id":"x"}[[/meta]]`))
	require.Equal(t, "text", u.Content)
	require.Equal(t, "x", u.DocumentID)
}
