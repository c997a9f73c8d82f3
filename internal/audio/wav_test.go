package audio

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestWriteSilenceRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSilence(&buf, 300*time.Millisecond, 0); err != nil {
		t.Fatalf("WriteSilence() error = %v", err)
	}
	if got, want := buf.Len(), 44+DefaultSampleRate*3/10*2; got != want {
		t.Fatalf("len = %d, want %d", got, want)
	}

	f, err := ReadFormat(&buf)
	if err != nil {
		t.Fatalf("ReadFormat() error = %v", err)
	}
	if f.SampleRate != DefaultSampleRate || f.Channels != 1 || f.BitsPerSample != 16 {
		t.Fatalf("unexpected format %+v", f)
	}
	if d := f.Duration(); d != 300*time.Millisecond {
		t.Fatalf("Duration() = %v, want 300ms", d)
	}
}

func TestReadFormatRejectsOtherData(t *testing.T) {
	if _, err := ReadFormat(strings.NewReader("ID3")); err != ErrNotWAV {
		t.Fatalf("short input error = %v, want ErrNotWAV", err)
	}
	if _, err := ReadFormat(strings.NewReader(strings.Repeat("x", 64))); err != ErrNotWAV {
		t.Fatalf("garbage input error = %v, want ErrNotWAV", err)
	}
}
