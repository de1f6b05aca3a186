package metadata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
	"github.com/youpy/go-wav"
	"go.uber.org/zap"
)

// ErrUnsupportedFormat is returned by the generic probe when the container
// cannot be identified.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ProbeError wraps a failure inside a format-specific duration probe.
type ProbeError struct {
	Format string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s probe: %v", e.Format, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

type probeFunc func(path string) (float64, error)

var probesByExt = map[string]probeFunc{
	".wav": probeWAV,
	".mp3": probeMP3,
	".m4a": probeMP4,
	".mp4": probeMP4,
	".amr": probeAMR,
}

// Duration returns the length of the recording in seconds. Probe failures
// and unidentifiable containers yield 0.
func (e *Extractor) Duration(path string) float64 {
	seconds, err := ProbeDuration(path)
	if err != nil {
		var probeErr *ProbeError
		if errors.As(err, &probeErr) || errors.Is(err, ErrUnsupportedFormat) {
			e.logger.Debug("duration probe fell back to zero", zap.String("path", path), zap.Error(err))
			return 0
		}
		// The file could not be opened or read before any probe ran.
		e.logger.Warn("duration unavailable", zap.String("path", path), zap.Error(err))
		return 0
	}
	if seconds < 0 {
		return 0
	}
	return seconds
}

// ProbeDuration dispatches on the file extension and returns the probe result
// unmodified, including its error.
func ProbeDuration(path string) (float64, error) {
	if probe, ok := probesByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return probe(path)
	}
	return probeGeneric(path)
}

// wavHeaderSize is the length of a canonical RIFF/WAVE header with a PCM fmt
// chunk and the data chunk header.
const wavHeaderSize = 44

func probeWAV(path string) (seconds float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	head := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return 0, &ProbeError{Format: "wav", Err: fmt.Errorf("short header: %w", err)}
	}
	if !bytes.Equal(head[:4], []byte("RIFF")) || !bytes.Equal(head[8:12], []byte("WAVE")) {
		return 0, &ProbeError{Format: "wav", Err: errors.New("missing RIFF/WAVE magic")}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	// go-wav panics on chunk sizes that run past the end of the file.
	defer func() {
		if r := recover(); r != nil {
			seconds = 0
			err = &ProbeError{Format: "wav", Err: fmt.Errorf("malformed chunk: %v", r)}
		}
	}()

	d, err := wav.NewReader(f).Duration()
	if err != nil {
		return 0, &ProbeError{Format: "wav", Err: err}
	}
	return d.Seconds(), nil
}

func probeMP3(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, &ProbeError{Format: "mp3", Err: err}
		}
		total += frame.Duration().Seconds()
	}

	return total, nil
}

// probeMP4 reads the movie header box (moov/mvhd) of an ISO-BMFF container.
func probeMP4(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	moovStart, moovEnd, err := findBox(f, 0, info.Size(), "moov")
	if err != nil {
		return 0, &ProbeError{Format: "mp4", Err: err}
	}
	mvhdStart, mvhdEnd, err := findBox(f, moovStart, moovEnd, "mvhd")
	if err != nil {
		return 0, &ProbeError{Format: "mp4", Err: err}
	}

	payload := make([]byte, mvhdEnd-mvhdStart)
	if _, err := f.ReadAt(payload, mvhdStart); err != nil {
		return 0, &ProbeError{Format: "mp4", Err: err}
	}

	seconds, err := parseMVHD(payload)
	if err != nil {
		return 0, &ProbeError{Format: "mp4", Err: err}
	}
	return seconds, nil
}

// findBox scans sibling boxes in [start, end) and returns the payload range of
// the first box named name.
func findBox(r io.ReaderAt, start, end int64, name string) (int64, int64, error) {
	header := make([]byte, 16)
	offset := start
	for offset+8 <= end {
		if _, err := r.ReadAt(header[:8], offset); err != nil {
			return 0, 0, err
		}
		size := int64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		headerLen := int64(8)

		switch size {
		case 0:
			size = end - offset
		case 1:
			if _, err := r.ReadAt(header[8:16], offset+8); err != nil {
				return 0, 0, err
			}
			size = int64(binary.BigEndian.Uint64(header[8:16]))
			headerLen = 16
		}

		if size < headerLen || offset+size > end {
			return 0, 0, fmt.Errorf("box %q at offset %d has invalid size %d", boxType, offset, size)
		}
		if boxType == name {
			return offset + headerLen, offset + size, nil
		}
		offset += size
	}
	return 0, 0, fmt.Errorf("box %q not found", name)
}

func parseMVHD(payload []byte) (float64, error) {
	if len(payload) < 4 {
		return 0, io.ErrUnexpectedEOF
	}

	var timescale uint32
	var duration uint64
	switch version := payload[0]; version {
	case 0:
		if len(payload) < 20 {
			return 0, io.ErrUnexpectedEOF
		}
		timescale = binary.BigEndian.Uint32(payload[12:16])
		duration = uint64(binary.BigEndian.Uint32(payload[16:20]))
	case 1:
		if len(payload) < 32 {
			return 0, io.ErrUnexpectedEOF
		}
		timescale = binary.BigEndian.Uint32(payload[20:24])
		duration = binary.BigEndian.Uint64(payload[24:32])
	default:
		return 0, fmt.Errorf("unknown mvhd version %d", version)
	}

	if timescale == 0 {
		return 0, errors.New("mvhd timescale is zero")
	}
	return float64(duration) / float64(timescale), nil
}

var (
	amrNBMagic = []byte("#!AMR\n")
	amrWBMagic = []byte("#!AMR-WB\n")

	// Frame sizes in bytes, including the one-byte frame header, indexed by
	// frame type.
	amrNBFrameSizes = [16]int{13, 14, 16, 18, 20, 21, 27, 32, 6, 1, 1, 1, 1, 1, 1, 1}
	amrWBFrameSizes = [16]int{18, 24, 33, 37, 41, 47, 51, 59, 61, 6, 1, 1, 1, 1, 1, 1}
)

const amrFrameSeconds = 0.02

// probeAMR walks the frames of a single-channel AMR storage file. A trailing
// partial frame ends the walk.
func probeAMR(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	head, err := r.Peek(len(amrWBMagic))
	if err != nil && len(head) < len(amrNBMagic) {
		return 0, &ProbeError{Format: "amr", Err: err}
	}

	var sizes *[16]int
	switch {
	case bytes.HasPrefix(head, amrWBMagic):
		sizes = &amrWBFrameSizes
		_, _ = r.Discard(len(amrWBMagic))
	case bytes.HasPrefix(head, amrNBMagic):
		sizes = &amrNBFrameSizes
		_, _ = r.Discard(len(amrNBMagic))
	default:
		return 0, &ProbeError{Format: "amr", Err: errors.New("missing AMR magic")}
	}

	frames := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, &ProbeError{Format: "amr", Err: err}
		}
		size := sizes[(b>>3)&0x0f]
		if n, err := r.Discard(size - 1); err != nil || n < size-1 {
			break
		}
		frames++
	}

	return float64(frames) * amrFrameSeconds, nil
}

// probeGeneric identifies the container from its leading bytes and dispatches
// to the matching probe.
func probeGeneric(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}

	head := make([]byte, 12)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		f.Close()
		return probeWAV(path)
	case bytes.HasPrefix(head, []byte("#!AMR")):
		f.Close()
		return probeAMR(path)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return 0, err
	}
	_, fileType, err := tag.Identify(f)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	switch fileType {
	case tag.MP3:
		return probeMP3(path)
	case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
		return probeMP4(path)
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fileType)
}
