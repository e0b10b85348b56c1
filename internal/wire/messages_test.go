package wire

import "testing"

func TestInitRoundTrip(t *testing.T) {
	in := Init{
		GlobalFeatures: []byte{0x01},
		LocalFeatures:  []byte{0x02, 0x03},
		TLVs:           []byte{0x01, 0x02, 0x00},
	}
	encoded := EncodeInit(in)
	decoded, err := DecodeInit(encoded)
	if err != nil {
		t.Fatalf("DecodeInit: %v", err)
	}
	if string(decoded.GlobalFeatures) != string(in.GlobalFeatures) {
		t.Errorf("global features mismatch: got %x want %x", decoded.GlobalFeatures, in.GlobalFeatures)
	}
	if string(decoded.LocalFeatures) != string(in.LocalFeatures) {
		t.Errorf("local features mismatch: got %x want %x", decoded.LocalFeatures, in.LocalFeatures)
	}
	if string(decoded.TLVs) != string(in.TLVs) {
		t.Errorf("tlv mismatch: got %x want %x", decoded.TLVs, in.TLVs)
	}
}

func TestInitEmptyFeatures(t *testing.T) {
	encoded := EncodeInit(Init{})
	decoded, err := DecodeInit(encoded)
	if err != nil {
		t.Fatalf("DecodeInit: %v", err)
	}
	if len(decoded.GlobalFeatures) != 0 || len(decoded.LocalFeatures) != 0 || len(decoded.TLVs) != 0 {
		t.Errorf("expected all-empty Init, got %+v", decoded)
	}
}

func TestDecodeInitShort(t *testing.T) {
	if _, err := DecodeInit([]byte{0x00}); err == nil {
		t.Fatal("expected error decoding truncated init")
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	payload := EncodePing(10, 4)
	ping, err := DecodePing(payload)
	if err != nil {
		t.Fatalf("DecodePing: %v", err)
	}
	if ping.NumPongBytes != 10 {
		t.Errorf("NumPongBytes = %d, want 10", ping.NumPongBytes)
	}
	if len(ping.Ignored) != 4 {
		t.Errorf("len(Ignored) = %d, want 4", len(ping.Ignored))
	}

	pong := EncodePong(ping.NumPongBytes)
	if len(pong) != 2+int(ping.NumPongBytes) {
		t.Errorf("pong length = %d, want %d", len(pong), 2+int(ping.NumPongBytes))
	}
}

func TestDecodePingShort(t *testing.T) {
	if _, err := DecodePing([]byte{0x00, 0x01}); err == nil {
		t.Fatal("expected error decoding truncated ping")
	}
}

func TestIsEven(t *testing.T) {
	cases := map[uint16]bool{
		TypeInit:            true,
		TypePing:            true,
		TypePong:            false,
		TypeCommandoRequest: false,
		32768:               true,
		32769:                false,
	}
	for typ, want := range cases {
		if got := IsEven(typ); got != want {
			t.Errorf("IsEven(%d) = %v, want %v", typ, got, want)
		}
	}
}
