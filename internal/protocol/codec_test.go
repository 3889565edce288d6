package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteMessageDoesNotFlush(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf)

	if err := c.WriteMessage(&Response{Type: TypeAck, ID: "1"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no bytes written before flush, got %d", buf.Len())
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !strings.Contains(buf.String(), `"id":"1"`) {
		t.Fatalf("flushed buffer missing expected content: %q", buf.String())
	}
}

func TestWriteMessageFlushFlushesImmediately(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf)

	if err := c.WriteMessageFlush(&Response{Type: TypeAck, ID: "2"}); err != nil {
		t.Fatalf("WriteMessageFlush: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected bytes flushed immediately")
	}
}

func TestReadRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"Ping","id":"req-1"}` + "\n")
	c := NewCodec(&buf)

	req, err := c.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Type != TypePing || req.ID != "req-1" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestReadRequestEOFYieldsNil(t *testing.T) {
	c := NewCodec(&bytes.Buffer{})
	req, err := c.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest on empty stream: %v", err)
	}
	if req != nil {
		t.Fatalf("expected nil request on EOF, got %+v", req)
	}
}

func TestReadRequestInvalidJSON(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("not json\n")
	c := NewCodec(&buf)

	if _, err := c.ReadRequest(); err == nil {
		t.Fatalf("expected ProtocolError for invalid JSON")
	}
}

func TestMultipleMessagesOnOneCodec(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"Ping","id":"1"}` + "\n" + `{"type":"Ping","id":"2"}` + "\n")
	c := NewCodec(&buf)

	first, err := c.ReadRequest()
	if err != nil || first.ID != "1" {
		t.Fatalf("first ReadRequest: %+v, %v", first, err)
	}
	second, err := c.ReadRequest()
	if err != nil || second.ID != "2" {
		t.Fatalf("second ReadRequest: %+v, %v", second, err)
	}
}
