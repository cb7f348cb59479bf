package mysqlproto_test

import (
	"testing"

	"github.com/pentve/rowcap/internal/mysqlproto"
)

func TestReadHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []byte
		want    mysqlproto.Header
		wantErr error
	}{
		{"empty ok packet", []byte{0x07, 0x00, 0x00, 0x01}, mysqlproto.Header{PayloadLen: 7, Seq: 1}, nil},
		{"zero length", []byte{0x00, 0x00, 0x00, 0x05}, mysqlproto.Header{PayloadLen: 0, Seq: 5}, nil},
		{"max length", []byte{0xFF, 0xFF, 0xFF, 0x00}, mysqlproto.Header{PayloadLen: mysqlproto.MaxPayloadLen, Seq: 0}, nil},
		{"short buffer", []byte{0x01, 0x02, 0x03}, mysqlproto.Header{}, mysqlproto.ErrNeedMore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mysqlproto.ReadHeader(tt.in)
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPutHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	hdr := mysqlproto.Header{PayloadLen: 12345, Seq: 0xAB}
	buf := make([]byte, mysqlproto.HeaderLen)
	mysqlproto.PutHeader(buf, hdr)

	got, err := mysqlproto.ReadHeader(buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got != hdr {
		t.Fatalf("got %+v, want %+v", got, hdr)
	}
}

func TestSplitPacket(t *testing.T) {
	t.Parallel()

	pkt := []byte{0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c'}
	hdr, payload, rest, err := mysqlproto.SplitPacket(pkt)
	if err != nil {
		t.Fatalf("SplitPacket: %v", err)
	}
	if hdr.PayloadLen != 3 || hdr.Seq != 0 {
		t.Fatalf("got header %+v", hdr)
	}
	if string(payload) != "abc" {
		t.Fatalf("got payload %q", payload)
	}
	if len(rest) != 0 {
		t.Fatalf("got rest %q, want empty", rest)
	}
}

func TestSplitPacketNeedsMore(t *testing.T) {
	t.Parallel()

	pkt := []byte{0x05, 0x00, 0x00, 0x00, 'a', 'b'}
	if _, _, _, err := mysqlproto.SplitPacket(pkt); err != mysqlproto.ErrNeedMore {
		t.Fatalf("err = %v, want ErrNeedMore", err)
	}
}

func TestSplitPacketTrailing(t *testing.T) {
	t.Parallel()

	pkt := []byte{0x01, 0x00, 0x00, 0x00, 'x', 0x02, 0x00, 0x00, 0x01, 'y', 'z'}
	_, _, rest, err := mysqlproto.SplitPacket(pkt)
	if err != nil {
		t.Fatalf("SplitPacket: %v", err)
	}
	hdr2, payload2, rest2, err := mysqlproto.SplitPacket(rest)
	if err != nil {
		t.Fatalf("SplitPacket second: %v", err)
	}
	if hdr2.Seq != 1 || string(payload2) != "yz" || len(rest2) != 0 {
		t.Fatalf("got hdr %+v payload %q rest %q", hdr2, payload2, rest2)
	}
}
