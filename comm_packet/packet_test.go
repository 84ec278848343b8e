package commpacket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestReadySequence(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, &ShimReady{NSPid: 1, Hostname: "box", Loopback: true}); err != nil {
		t.Fatal(err)
	}

	data, err := ReadPacketWith4BytesLengthHeader(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ready, ok := ParsePacket(data).(*ShimReady)
	if !ok {
		t.Fatalf("ParsePacket = %T, want *ShimReady", ParsePacket(data))
	}
	if ready.NSPid != 1 || ready.Hostname != "box" || !ready.Loopback {
		t.Errorf("ready = %+v", ready)
	}

	// exec succeeded: the anchor closed the pipe
	if _, err := ReadPacketWith4BytesLengthHeader(&buf); err != io.EOF {
		t.Errorf("after ready err = %v, want io.EOF", err)
	}
}

func TestShimFailedIsError(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, &ShimFailed{Stage: "hostname", Reason: "operation not permitted"}); err != nil {
		t.Fatal(err)
	}
	data, err := ReadPacketWith4BytesLengthHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}

	var failed *ShimFailed
	if err, ok := ParsePacket(data).(error); !ok || !errors.As(err, &failed) {
		t.Fatalf("ParsePacket did not yield a *ShimFailed error")
	}
	if got, want := failed.Error(), "shim hostname: operation not permitted"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestParsePacketRejects(t *testing.T) {
	for _, data := range [][]byte{
		[]byte("not json"),
		[]byte(`{"type":42}`),
		[]byte(`{"type":0,"ns_pid":"one"}`),
	} {
		if p := ParsePacket(data); p != nil {
			t.Errorf("ParsePacket(%s) = %#v, want nil", data, p)
		}
	}
}

func TestReadPacketTruncatedAndOversized(t *testing.T) {
	truncated := DoPackWith4Bytes([]byte(`{"type":0}`))
	truncated = truncated[:len(truncated)-3]
	if _, err := ReadPacketWith4BytesLengthHeader(bytes.NewReader(truncated)); err != io.ErrUnexpectedEOF {
		t.Errorf("truncated err = %v, want io.ErrUnexpectedEOF", err)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxPacketSize+1)
	if _, err := ReadPacketWith4BytesLengthHeader(bytes.NewReader(header)); err == nil {
		t.Error("oversized packet accepted")
	}
}
