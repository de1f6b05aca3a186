package metadata

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// wavBytes returns a PCM 16-bit mono WAV holding the given number of seconds of silence.
func wavBytes(sampleRate uint32, seconds float64) []byte {
	dataSize := uint32(float64(sampleRate)*seconds) * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, sampleRate)
	_ = binary.Write(&buf, binary.LittleEndian, sampleRate*2)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}

// mp4Bytes returns an ftyp box followed by a moov box carrying a version-0 mvhd.
func mp4Bytes(timescale, duration uint32) []byte {
	var mvhd bytes.Buffer
	mvhd.Write([]byte{0, 0, 0, 0})
	_ = binary.Write(&mvhd, binary.BigEndian, uint32(0))
	_ = binary.Write(&mvhd, binary.BigEndian, uint32(0))
	_ = binary.Write(&mvhd, binary.BigEndian, timescale)
	_ = binary.Write(&mvhd, binary.BigEndian, duration)
	mvhd.Write(make([]byte, 80))

	var buf bytes.Buffer
	writeBox(&buf, "ftyp", []byte("M4A \x00\x00\x00\x00isomM4A "))
	var moov bytes.Buffer
	writeBox(&moov, "mvhd", mvhd.Bytes())
	writeBox(&buf, "moov", moov.Bytes())
	return buf.Bytes()
}

func writeBox(buf *bytes.Buffer, name string, payload []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(8+len(payload)))
	buf.WriteString(name)
	buf.Write(payload)
}

// amrBytes returns an AMR-NB file made of 12.2 kbit/s frames (32 bytes, 20 ms each).
func amrBytes(frames int, trailing int) []byte {
	var buf bytes.Buffer
	buf.Write(amrNBMagic)
	frame := make([]byte, 32)
	frame[0] = 7<<3 | 0x04
	for i := 0; i < frames; i++ {
		buf.Write(frame)
	}
	if trailing > 0 {
		buf.Write(frame[:trailing])
	}
	return buf.Bytes()
}

// mp3Bytes returns MPEG-1 Layer III frames at 128 kbit/s, 44.1 kHz.
func mp3Bytes(frames int) []byte {
	const frameLen = 417
	var buf bytes.Buffer
	for i := 0; i < frames; i++ {
		frame := make([]byte, frameLen)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})
		buf.Write(frame)
	}
	return buf.Bytes()
}
