package httpgw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteResponseHead_BasicOK(t *testing.T) {
	head := WriteResponseHead(ResponseHead{
		Status:        200,
		ContentType:   "video/mp2t",
		ContentLength: 1234,
	})
	s := string(head)
	assert.Contains(t, s, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, s, "Content-Type: video/mp2t\r\n")
	assert.Contains(t, s, "Content-Length: 1234\r\n")
	assert.Contains(t, s, "Connection: close\r\n")
}

func TestWriteResponseHead_OmitsContentLengthWhenNegative(t *testing.T) {
	head := WriteResponseHead(ResponseHead{Status: 200, ContentLength: -1})
	assert.NotContains(t, string(head), "Content-Length")
}

func TestWriteResponseHead_KeepAliveForSSE(t *testing.T) {
	head := WriteResponseHead(ResponseHead{Status: 200, ContentLength: -1, KeepAlive: true})
	assert.Contains(t, string(head), "Connection: keep-alive\r\n")
}

func TestWriteResponseHead_UnknownStatusFallback(t *testing.T) {
	head := WriteResponseHead(ResponseHead{Status: 599, ContentLength: -1})
	assert.Contains(t, string(head), "599 Unknown")
}

func TestMediaContentType(t *testing.T) {
	assert.Equal(t, "video/mp2t", MediaContentType(true))
	assert.Equal(t, "application/octet-stream", MediaContentType(false))
}

func TestETagMatches_Wildcard(t *testing.T) {
	assert.True(t, ETagMatches("*", "anything"))
}

func TestETagMatches_WeakAndExactList(t *testing.T) {
	assert.True(t, ETagMatches(`W/"abc", "def"`, "def"))
	assert.True(t, ETagMatches(`"abc"`, "abc"))
	assert.False(t, ETagMatches(`"abc"`, "xyz"))
}

func TestETagMatches_Empty(t *testing.T) {
	assert.False(t, ETagMatches("", "abc"))
}

func TestFormatETag(t *testing.T) {
	var digest [16]byte
	for i := range digest {
		digest[i] = byte(i)
	}
	assert.Equal(t, "000102030405060708090a0b0c0d0e0f", FormatETag(digest))
}
