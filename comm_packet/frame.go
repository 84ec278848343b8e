package commpacket

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPacketSize bounds the length header so a corrupt pipe cannot make the
// reader allocate gigabytes.
const MaxPacketSize = 64 << 10

// DoPackWith4Bytes prefixes data with its big-endian uint32 length.
func DoPackWith4Bytes(data []byte) []byte {
	bs := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(bs, uint32(len(data)))
	bs = append(bs, data...)
	return bs
}

// ReadPacketWith4BytesLengthHeader reads one packet written by
// DoPackWith4Bytes. io.EOF is returned untouched when the stream ends before
// the header starts.
func ReadPacketWith4BytesLengthHeader(reader io.Reader) ([]byte, error) {
	lengthBytes := make([]byte, 4)
	_, err := io.ReadFull(reader, lengthBytes)
	if err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBytes)
	if length > MaxPacketSize {
		return nil, fmt.Errorf("packet of %d bytes exceeds %d", length, MaxPacketSize)
	}

	data := make([]byte, length)
	_, err = io.ReadFull(reader, data)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return data, err
}

// WritePacket frames and writes one packet.
func WritePacket(w io.Writer, p interface{ MustMarshalToBytes() []byte }) error {
	_, err := w.Write(DoPackWith4Bytes(p.MustMarshalToBytes()))
	return err
}
