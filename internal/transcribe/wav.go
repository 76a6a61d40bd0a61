package transcribe

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeWAV writes a canonical 44-byte RIFF/WAVE header followed by the raw
// PCM payload. whisper.cpp refuses headerless input, so every window goes
// through this wrapper before hitting the engine.
func writeWAV(w io.Writer, pcm []byte, f AudioFormat) error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.SampleWidth <= 0 {
		return fmt.Errorf("transcribe: invalid audio format %+v", f)
	}

	byteRate := uint32(f.BytesPerSecond())
	blockAlign := uint16(f.Channels * f.SampleWidth)
	dataLen := uint32(len(pcm))

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataLen)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], uint16(f.SampleWidth*8))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataLen)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("transcribe: write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("transcribe: write wav payload: %w", err)
	}
	return nil
}
