package message

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Message{Seq: 42, PublishTS: 1234567890, Payload: []byte("hello world")}

	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Seq != m.Seq || decoded.PublishTS != m.PublishTS || string(decoded.Payload) != string(m.Payload) {
		t.Fatalf("round trip mismatch: want %+v, got %+v", m, decoded)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("want error decoding non-JSON frame")
	}
}

func TestAckRoundTrip(t *testing.T) {
	a := Ack{AckSeq: 7}
	encoded, err := a.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeAck(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.AckSeq != a.AckSeq {
		t.Fatalf("want %d, got %d", a.AckSeq, decoded.AckSeq)
	}
}

func TestDecodeHello(t *testing.T) {
	h, err := DecodeHello([]byte(`{"hello":"trader"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Prefix != "trader" {
		t.Fatalf("want prefix trader, got %q", h.Prefix)
	}
}
