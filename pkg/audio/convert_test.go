package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestPCMToInt16(t *testing.T) {
	want := []int16{0, 1, -1, 32767, -32768}
	got := audio.PCMToInt16(samplesToBytes(want))
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCMToInt16_OddLengthInput(t *testing.T) {
	got := audio.PCMToInt16([]byte{0x01, 0x00, 0xFF})
	if len(got) != 1 {
		t.Fatalf("expected trailing byte to be ignored, got %d samples", len(got))
	}
	if got[0] != 1 {
		t.Errorf("sample 0: got %d, want 1", got[0])
	}
}

func TestInt16ToPCM_LittleEndian(t *testing.T) {
	got := audio.Int16ToPCM([]int16{0x0102, -2})
	want := []byte{0x02, 0x01, 0xFE, 0xFF}
	if string(got) != string(want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestFormat_SamplesAndDuration(t *testing.T) {
	f := audio.DefaultFormat
	if got := f.Samples(2048); got != 1024 {
		t.Errorf("Samples(2048) = %d, want 1024", got)
	}
	if got := f.Duration(88200); got.Seconds() != 1 {
		t.Errorf("Duration(88200) = %v, want 1s", got)
	}
	stereo := audio.Format{SampleRate: 48000, Channels: 2, SampleWidth: 2}
	if got := stereo.Samples(4800); got != 1200 {
		t.Errorf("stereo Samples(4800) = %d, want 1200", got)
	}
	if got := stereo.String(); got != "48000Hz stereo s16le" {
		t.Errorf("String() = %q", got)
	}
}

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name    string
		f       audio.Format
		wantErr bool
	}{
		{"default", audio.DefaultFormat, false},
		{"zero rate", audio.Format{Channels: 1, SampleWidth: 2}, true},
		{"zero channels", audio.Format{SampleRate: 8000, SampleWidth: 2}, true},
		{"24-bit", audio.Format{SampleRate: 8000, Channels: 1, SampleWidth: 3}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
