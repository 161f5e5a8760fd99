package langsmith

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodedPart is one parsed multipart part.
type decodedPart struct {
	name        string
	contentType string
	length      string
	data        []byte
}

func decodeMultipart(t *testing.T, body []byte, contentType string) []decodedPart {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	var parts []decodedPart
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		parts = append(parts, decodedPart{
			name:        p.FormName(),
			contentType: p.Header.Get("Content-Type"),
			length:      p.Header.Get("Content-Length"),
			data:        data,
		})
	}
	return parts
}

// TestEncodeMultipartBatchPartLayout verifies the canonical part order:
// main object, blob fields alphabetically, attachments by name.
func TestEncodeMultipartBatchPartLayout(t *testing.T) {
	o := newOp(opPost, testRootID, testRootID, map[string]interface{}{
		"id":       testRootID,
		"name":     "pipeline",
		"run_type": "chain",
		"inputs":   map[string]interface{}{"query": "hello"},
		"outputs":  map[string]interface{}{"answer": "world"},
		"events":   []interface{}{map[string]interface{}{"name": "start"}},
	}, map[string]Attachment{
		"zebra.png": {MimeType: "image/png", Data: []byte{0x89, 0x50}},
		"alpha.txt": {MimeType: "text/plain", Data: []byte("notes")},
	})

	body, contentType, err := encodeMultipartBatch([]*op{o})
	require.NoError(t, err)

	parts := decodeMultipart(t, body, contentType)
	require.Len(t, parts, 6)

	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.name
	}
	assert.Equal(t, []string{
		"post." + testRootID,
		"post." + testRootID + ".events",
		"post." + testRootID + ".inputs",
		"post." + testRootID + ".outputs",
		"attachment." + testRootID + ".alpha.txt",
		"attachment." + testRootID + ".zebra.png",
	}, names)

	// The main part carries everything except the extracted blob fields.
	var main map[string]interface{}
	require.NoError(t, json.Unmarshal(parts[0].data, &main))
	assert.Equal(t, testRootID, main["id"])
	assert.Equal(t, "pipeline", main["name"])
	assert.NotContains(t, main, "inputs")
	assert.NotContains(t, main, "outputs")
	assert.NotContains(t, main, "events")

	var inputs map[string]interface{}
	require.NoError(t, json.Unmarshal(parts[2].data, &inputs))
	assert.Equal(t, "hello", inputs["query"])

	// Every part declares type and exact length.
	for _, p := range parts {
		assert.NotEmpty(t, p.contentType, "part %s", p.name)
		assert.Equal(t, strconv.Itoa(len(p.data)), p.length, "part %s", p.name)
	}
	assert.Equal(t, "application/json", parts[0].contentType)
	assert.Equal(t, "text/plain", parts[4].contentType)
	assert.Equal(t, "image/png", parts[5].contentType)
	assert.Equal(t, []byte("notes"), parts[4].data)
}

// TestEncodeMultipartBatchKeepsQueueOrder verifies operations encode in
// the order given, patches included.
func TestEncodeMultipartBatchKeepsQueueOrder(t *testing.T) {
	ops := []*op{
		newOp(opPost, testRootID, testRootID, map[string]interface{}{"id": testRootID}, nil),
		newOp(opPost, testChildID, testRootID, map[string]interface{}{"id": testChildID}, nil),
		newOp(opPatch, testChildID, testRootID, map[string]interface{}{"id": testChildID, "end_time": int64(1)}, nil),
	}

	body, contentType, err := encodeMultipartBatch(ops)
	require.NoError(t, err)

	parts := decodeMultipart(t, body, contentType)
	require.Len(t, parts, 3)
	assert.Equal(t, "post."+testRootID, parts[0].name)
	assert.Equal(t, "post."+testChildID, parts[1].name)
	assert.Equal(t, "patch."+testChildID, parts[2].name)
}

// TestEncodeMultipartBatchDefaultsMime verifies attachments without a
// declared type fall back to octet-stream.
func TestEncodeMultipartBatchDefaultsMime(t *testing.T) {
	o := newOp(opPost, testRootID, testRootID, map[string]interface{}{"id": testRootID},
		map[string]Attachment{"raw": {Data: []byte{1, 2, 3}}})

	body, contentType, err := encodeMultipartBatch([]*op{o})
	require.NoError(t, err)

	parts := decodeMultipart(t, body, contentType)
	require.Len(t, parts, 2)
	assert.Equal(t, "application/octet-stream", parts[1].contentType)
	assert.Equal(t, []byte{1, 2, 3}, parts[1].data)
}

// TestSendMultipartEndToEnd verifies the negotiated multipart path hits
// /runs/multipart with a decodable form body.
func TestSendMultipartEndToEnd(t *testing.T) {
	cs := newCaptureServer(t)
	tr := newTestTransport(cs, &capturingLogger{})

	info := &ServerInfo{
		BatchIngestConfig: BatchIngestConfig{
			UseMultipartEndpoint: true,
			SizeLimit:            100,
			SizeLimitBytes:       20 * 1024 * 1024,
		},
	}
	ops := []*op{newOp(opPost, testRootID, testRootID, map[string]interface{}{
		"id":     testRootID,
		"inputs": map[string]interface{}{"query": "hello"},
	}, nil)}
	require.NoError(t, tr.sendBatch(context.Background(), ops, info))

	reqs := cs.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/runs/multipart", reqs[0].path)

	parts := decodeMultipart(t, reqs[0].body, reqs[0].header.Get("Content-Type"))
	require.Len(t, parts, 2)
	assert.Equal(t, "post."+testRootID, parts[0].name)
	assert.Equal(t, "post."+testRootID+".inputs", parts[1].name)
}
