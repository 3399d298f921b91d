package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestSamplesRoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.Samples(audio.PCM(in))
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestRemix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		from, to int
		want     []int16
	}{
		{"mono to stereo", []int16{100, -200}, 1, 2, []int16{100, 100, -200, -200}},
		{"stereo to mono", []int16{100, 200, -100, -300}, 2, 1, []int16{150, -200}},
		{"stereo to mono extremes", []int16{32767, 32767, -32768, -32768}, 2, 1, []int16{32767, -32768}},
		{"quad to stereo", []int16{1, 2, 3, 4}, 4, 2, []int16{1, 2}},
		{"same", []int16{5, 6}, 2, 2, []int16{5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Remix(tt.in, tt.from, tt.to)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResample_Length(t *testing.T) {
	t.Parallel()

	in := make([]int16, 960*2) // 20 ms of 48 kHz stereo
	got := audio.Resample(in, 2, 48000, 16000)
	if want := 320 * 2; len(got) != want {
		t.Fatalf("len = %d, want %d", len(got), want)
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()

	got := audio.Resample([]int16{0, 100}, 1, 1, 2)
	want := []int16{0, 50, 100, 100}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFormatConverter_NativeToRecognizer(t *testing.T) {
	t.Parallel()

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.Silence(audio.NativeFormat, 20*time.Millisecond)
	out := conv.Convert(in)
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("format = %d/%d, want 16000/1", out.SampleRate, out.Channels)
	}
	if want := 640; len(out.Data) != want {
		t.Errorf("bytes = %d, want %d", len(out.Data), want)
	}
	if out.Duration() != 20*time.Millisecond {
		t.Errorf("duration = %v, want 20ms", out.Duration())
	}
}

func TestFormatConverter_Passthrough(t *testing.T) {
	t.Parallel()

	conv := audio.FormatConverter{Target: audio.NativeFormat}
	in := audio.Silence(audio.NativeFormat, 20*time.Millisecond)
	out := conv.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("matching format should not copy")
	}
}

func TestApplyGain_Ramp(t *testing.T) {
	t.Parallel()

	pcm := audio.PCM([]int16{1000, 1000, 1000, 1000, 1000})
	audio.ApplyGain(pcm, 1, 1.0, 0.0)
	got := audio.Samples(pcm)
	want := []int16{1000, 750, 500, 250, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestApplyGain_Clips(t *testing.T) {
	t.Parallel()

	pcm := audio.PCM([]int16{30000, -30000})
	audio.ApplyGain(pcm, 1, 2.0, 2.0)
	got := audio.Samples(pcm)
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want clipped extremes", got)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(audio.PCM([]int16{300, -300, 300, -300})); got != 300 {
		t.Errorf("RMS = %v, want 300", got)
	}
}
