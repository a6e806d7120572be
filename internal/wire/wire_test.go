package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := MasterRequest{Type: ReqStatus, Name: "web"}
	require.NoError(t, WriteJSON(&buf, req))

	var out MasterRequest
	require.NoError(t, ReadJSON(&buf, &out))
	assert.Equal(t, req, out)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{'a'}, MaxFrameSize+1)
	err := WriteFrame(&buf, payload)
	assert.Error(t, err)
}

func TestReadFrameStopsOnShortRead(t *testing.T) {
	r := strings.NewReader(string([]byte{0x00, 0x05, 'a', 'b'}))
	_, err := ReadFrame(r)
	assert.Error(t, err)
}

func TestMultipleFramesOnOneStreamDecodeInOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, MasterResponse{Type: RespPong}))
	require.NoError(t, WriteJSON(&buf, MasterResponse{Type: RespDone}))

	var first, second MasterResponse
	require.NoError(t, ReadJSON(&buf, &first))
	require.NoError(t, ReadJSON(&buf, &second))
	assert.Equal(t, RespPong, first.Type)
	assert.Equal(t, RespDone, second.Type)
}
