package mode

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/chaz8081/trionesctl/internal/audio"
	"github.com/chaz8081/trionesctl/internal/ble"
	"github.com/chaz8081/trionesctl/internal/color"
	"github.com/chaz8081/trionesctl/internal/emotion"
	"github.com/chaz8081/trionesctl/internal/speech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestModeText(t *testing.T) {
	for m, name := range modeNames {
		b, err := m.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(b))

		var got Mode
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, m, got)
	}
	assert.Equal(t, "mode(42)", Mode(42).String())

	var m Mode
	assert.Error(t, m.UnmarshalText([]byte("disco")))
}

func TestNewControllerIsIdle(t *testing.T) {
	r := newRig(t, false)
	s := r.ctrl.Snapshot()
	assert.Equal(t, Idle, s.Mode)
	assert.Equal(t, color.Default, s.Color)
	assert.True(t, s.PowerOn)
}

func TestChangeColorWritesCommand(t *testing.T) {
	r := newRig(t, true)

	require.NoError(t, r.ctrl.ChangeColor(ctx, color.RGB(10, 20, 30)))

	assert.Equal(t, [][]byte{{0x56, 10, 20, 30, 0x00, 0xF0, 0xAA}}, r.char.written())
	assert.Equal(t, color.RGB(10, 20, 30), r.ctrl.Snapshot().Color)
}

func TestChangeColorNotConnected(t *testing.T) {
	r := newRig(t, false)

	err := r.ctrl.ChangeColor(ctx, color.RGB(1, 2, 3))
	assert.ErrorIs(t, err, ble.ErrNotConnected)
	// Color state still moves; the bulb catches up on the next write.
	assert.Equal(t, color.RGB(1, 2, 3), r.ctrl.Snapshot().Color)
	assert.Contains(t, r.noticeMessages(), "Bulb is not connected")
}

func TestChangeColorWriteFailureKeepsMode(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSound(ctx))
	r.char.setErr(errors.New("gatt: write rejected"))

	err := r.ctrl.ChangeColor(ctx, color.RGB(0, 255, 0))
	assert.ErrorIs(t, err, ble.ErrWriteFailed)
	assert.Equal(t, SoundVisualizing, r.ctrl.Mode())
	assert.Contains(t, r.noticeMessages(), "Bulb did not accept the command")
}

func TestPower(t *testing.T) {
	r := newRig(t, true)

	require.NoError(t, r.ctrl.SetPower(ctx, false))
	assert.False(t, r.ctrl.Snapshot().PowerOn)

	on, err := r.ctrl.TogglePower(ctx)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, r.ctrl.Snapshot().PowerOn)

	assert.Equal(t, [][]byte{{0xCC, 0x24, 0x33}, {0xCC, 0x23, 0x33}}, r.char.written())
}

func TestRandomCyclesSeededColors(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartRandom(ctx))
	assert.Equal(t, RandomColor, r.ctrl.Mode())

	require.Eventually(t, func() bool { return len(r.colorWrites()) >= 3 }, time.Second, time.Millisecond)

	want := color.NewSampler(42)
	got := r.colorWrites()
	for i := 0; i < 3; i++ {
		assert.Equal(t, want.Sample().Command(), got[i], "write %d", i)
	}

	r.ctrl.Stop()
	assert.Equal(t, Idle, r.ctrl.Mode())
	time.Sleep(20 * time.Millisecond)
	n := len(r.colorWrites())
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, r.colorWrites(), n, "timer still firing after stop")
}

func TestStartWhileActive(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartRandom(ctx))

	err := r.ctrl.StartSound(ctx)
	assert.ErrorIs(t, err, ErrModeActive)
	assert.Equal(t, RandomColor, r.ctrl.Mode())
	assert.False(t, r.sound.running())
}

func TestDuplicateStartIsNoop(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSpeech(ctx))
	require.NoError(t, r.ctrl.StartSpeech(ctx))

	r.speech.mu.Lock()
	starts := r.speech.starts
	r.speech.mu.Unlock()
	assert.Equal(t, 1, starts)
	assert.Equal(t, SpeechListening, r.ctrl.Mode())
}

func TestSwitchTearsDownFirst(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSound(ctx))

	require.NoError(t, r.ctrl.Switch(ctx, EmotionWatching))
	assert.Equal(t, EmotionWatching, r.ctrl.Mode())
	assert.False(t, r.sound.running())
	assert.True(t, r.emotion.running())
	assert.Equal(t, 1, r.camera.Live())

	changes := r.modeChanges()
	require.Len(t, changes, 3)
	assert.Equal(t, ModeChange{Mode: SoundVisualizing, Previous: Idle}, changes[0])
	assert.Equal(t, Idle, changes[1].Mode)
	assert.Equal(t, SoundVisualizing, changes[1].Previous)
	assert.Equal(t, ModeChange{Mode: EmotionWatching, Previous: Idle}, changes[2])

	require.NoError(t, r.ctrl.Switch(ctx, Idle))
	assert.Equal(t, Idle, r.ctrl.Mode())
	assert.Equal(t, 0, r.camera.Live())
}

func TestStopIsIdempotent(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSound(ctx))
	r.ctrl.Stop()
	r.ctrl.Stop()

	r.sound.mu.Lock()
	stops := r.sound.stops
	r.sound.mu.Unlock()
	assert.Equal(t, 1, stops)
	assert.Len(t, r.modeChanges(), 2)
}

func TestSpeechResultSetsNamedColor(t *testing.T) {
	rec := speech.NewLineRecognizer()
	r := newRig(t, true, func(o *Options) { o.Speech = rec })
	require.NoError(t, r.ctrl.StartSpeech(ctx))
	require.True(t, rec.Say("red"))

	require.Eventually(t, func() bool { return len(r.colorWrites()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []byte{0x56, 255, 0, 0, 0x00, 0xF0, 0xAA}, r.colorWrites()[0])
	assert.Equal(t, Idle, r.ctrl.Mode())
	assert.False(t, rec.Listening())
}

func TestSpeechUnknownColor(t *testing.T) {
	rec := speech.NewLineRecognizer()
	r := newRig(t, true, func(o *Options) { o.Speech = rec })
	require.NoError(t, r.ctrl.StartSpeech(ctx))
	require.True(t, rec.Say("unknown-color"))

	require.Eventually(t, func() bool { return r.ctrl.Mode() == Idle }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, r.char.written())
	assert.Contains(t, r.noticeMessages(), "Incorrect color!")
}

func TestSpeechSessionEndsOnEveryOutcome(t *testing.T) {
	outcomes := []speech.Event{
		{Kind: speech.NoMatch},
		{Kind: speech.Error, Err: errors.New("network")},
		{Kind: speech.SpeechEnd},
		{Kind: speech.Result, Transcript: "Синий", Confidence: 0.9},
	}
	for _, ev := range outcomes {
		t.Run(ev.Kind.String(), func(t *testing.T) {
			r := newRig(t, true)
			require.NoError(t, r.ctrl.StartSpeech(ctx))
			r.speech.emit(ev)
			assert.Equal(t, Idle, r.ctrl.Mode())
			assert.False(t, r.speech.running())
		})
	}
}

func TestSpeechErrorIsNoticed(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSpeech(ctx))
	r.speech.emit(speech.Event{Kind: speech.Error, Err: errors.New("not-allowed")})
	assert.Contains(t, r.noticeMessages(), "Speech recognition failed")
}

func TestEmotionDebouncesRepeats(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartEmotion(ctx))

	r.emotion.emit(emotion.Happy)
	r.emotion.emit(emotion.Happy)

	happy, _ := emotion.Happy.Color()
	assert.Equal(t, [][]byte{happy.Command()}, r.colorWrites())
	draws, _, showing := r.overlay.state()
	assert.Equal(t, 2, draws)
	assert.True(t, showing)
	assert.Equal(t, emotion.Happy, r.ctrl.Snapshot().Emotion)

	r.emotion.emit(emotion.Sad)
	r.emotion.emit(emotion.Sad)
	r.emotion.emit(emotion.Happy)
	assert.Len(t, r.colorWrites(), 3)
}

func TestEmotionDebounceResetsPerActivation(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartEmotion(ctx))
	r.emotion.emit(emotion.Happy)
	r.ctrl.Stop()

	require.NoError(t, r.ctrl.StartEmotion(ctx))
	r.emotion.emit(emotion.Happy)
	assert.Len(t, r.colorWrites(), 2)
}

func TestEmotionStopReleasesEverything(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartEmotion(ctx))
	r.emotion.emit(emotion.Neutral)

	r.ctrl.Stop()
	assert.False(t, r.emotion.running())
	assert.Equal(t, 0, r.camera.Live())
	_, clears, showing := r.overlay.state()
	assert.Equal(t, 1, clears)
	assert.False(t, showing)
}

func TestDisconnectDuringEmotionTearsDown(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartEmotion(ctx))
	require.Equal(t, 1, r.camera.Live())

	r.conn.drop()

	assert.Equal(t, ble.Disconnected, r.session.State())
	assert.Equal(t, Idle, r.ctrl.Mode())
	assert.False(t, r.emotion.running())
	assert.Equal(t, 0, r.camera.Live(), "camera tracks still running")
	_, clears, _ := r.overlay.state()
	assert.Equal(t, 1, clears)
}

func TestDisconnectDuringSoundTearsDown(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSound(ctx))

	r.conn.drop()

	assert.Equal(t, ble.Disconnected, r.session.State())
	assert.Equal(t, Idle, r.ctrl.Mode())
	r.sound.mu.Lock()
	stops := r.sound.stops
	r.sound.mu.Unlock()
	assert.Equal(t, 1, stops)

	changes := r.modeChanges()
	require.NotEmpty(t, changes)
	assert.Equal(t, "device disconnected", changes[len(changes)-1].Reason)
}

func TestRequestedDisconnectTearsDown(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartRandom(ctx))
	require.NoError(t, r.session.Disconnect())
	assert.Equal(t, Idle, r.ctrl.Mode())
}

func TestFailedPairingKeepsMode(t *testing.T) {
	r := newRig(t, false)
	require.NoError(t, r.ctrl.StartRandom(ctx))

	r.adapter.failConnect(errors.New("radio off"))
	require.Error(t, r.session.Connect(ctx))

	assert.Equal(t, ble.Disconnected, r.session.State())
	assert.Equal(t, RandomColor, r.ctrl.Mode())

	// Once paired the running mode reaches the bulb.
	r.adapter.failConnect(nil)
	require.NoError(t, r.session.Connect(ctx))
	require.Eventually(t, func() bool { return len(r.colorWrites()) > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, RandomColor, r.ctrl.Mode())
}

func TestStaleCallbacksIgnored(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartEmotion(ctx))
	old := r.emotion.callback()
	r.ctrl.Stop()

	require.NoError(t, r.ctrl.StartEmotion(ctx))
	old(emotion.Detection{Label: emotion.Angry})

	assert.Empty(t, r.colorWrites())
	draws, _, _ := r.overlay.state()
	assert.Equal(t, 0, draws)
	assert.Empty(t, r.ctrl.Snapshot().Emotion)
}

func TestStaleLevelAfterStop(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSound(ctx))
	r.ctrl.Stop()

	r.sound.emit(audio.Reading{Level: 1})
	assert.Empty(t, r.colorWrites())
}

func TestSoundMapsLevels(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSound(ctx))

	r.sound.emit(audio.Reading{Level: 0})
	r.sound.emit(audio.Reading{Level: 1})

	assert.Equal(t, [][]byte{
		color.ForLevel(0).Command(),
		color.ForLevel(1).Command(),
	}, r.colorWrites())
	assert.Equal(t, color.ForLevel(1), r.ctrl.Snapshot().Color)
}

func TestProviderErrorForcesIdle(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartSound(ctx))

	r.sound.emit(audio.Reading{Err: errors.New("device unplugged")})

	assert.Equal(t, Idle, r.ctrl.Mode())
	assert.False(t, r.sound.running())
	assert.Contains(t, r.noticeMessages(), "Mode stopped: provider failed")
}

func TestEmotionDetectorErrorForcesIdle(t *testing.T) {
	r := newRig(t, true)
	require.NoError(t, r.ctrl.StartEmotion(ctx))

	r.emotion.callback()(emotion.Detection{Err: errors.New("model failed")})

	assert.Equal(t, Idle, r.ctrl.Mode())
	assert.Equal(t, 0, r.camera.Live())
}

func TestProviderStartFailures(t *testing.T) {
	boom := errors.New("permission denied")

	t.Run("speech", func(t *testing.T) {
		r := newRig(t, true)
		r.speech.startErr = boom
		err := r.ctrl.StartSpeech(ctx)
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "speech", pe.Provider)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, Idle, r.ctrl.Mode())
	})

	t.Run("camera", func(t *testing.T) {
		r := newRig(t, true, func(o *Options) { o.Camera = failingCamera{} })
		err := r.ctrl.StartEmotion(ctx)
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "camera", pe.Provider)
		assert.Equal(t, Idle, r.ctrl.Mode())
	})

	t.Run("emotion releases camera", func(t *testing.T) {
		r := newRig(t, true)
		r.emotion.startErr = boom
		err := r.ctrl.StartEmotion(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, r.camera.Live())
		assert.Equal(t, Idle, r.ctrl.Mode())
	})

	t.Run("sound", func(t *testing.T) {
		r := newRig(t, true)
		r.sound.startErr = boom
		assert.ErrorIs(t, r.ctrl.StartSound(ctx), boom)
		assert.Equal(t, Idle, r.ctrl.Mode())
	})

	t.Run("unconfigured", func(t *testing.T) {
		r := newRig(t, true, func(o *Options) { o.Sound = nil })
		assert.ErrorIs(t, r.ctrl.StartSound(ctx), ErrUnavailable)
	})

	t.Run("recover after failure", func(t *testing.T) {
		r := newRig(t, true)
		r.sound.startErr = boom
		require.Error(t, r.ctrl.StartSound(ctx))
		require.NoError(t, r.ctrl.StartRandom(ctx))
		assert.Equal(t, RandomColor, r.ctrl.Mode())
	})
}

func TestAtMostOneModeActive(t *testing.T) {
	r := newRig(t, true)
	rnd := rand.New(rand.NewPCG(7, 7))
	modes := []Mode{Idle, RandomColor, SpeechListening, EmotionWatching, SoundVisualizing}

	for i := 0; i < 200; i++ {
		m := modes[rnd.IntN(len(modes))]
		switch rnd.IntN(3) {
		case 0:
			if m == Idle {
				r.ctrl.Stop()
			} else {
				err := r.ctrl.Start(ctx, m)
				if err != nil {
					require.ErrorIs(t, err, ErrModeActive)
				}
			}
		case 1:
			require.NoError(t, r.ctrl.Switch(ctx, m))
		case 2:
			r.ctrl.Stop()
		}

		cur := r.ctrl.Mode()
		running := 0
		for _, on := range []bool{r.speech.running(), r.emotion.running(), r.sound.running()} {
			if on {
				running++
			}
		}
		require.LessOrEqual(t, running, 1, "step %d", i)
		require.Equal(t, cur == SpeechListening, r.speech.running(), "step %d", i)
		require.Equal(t, cur == EmotionWatching, r.emotion.running(), "step %d", i)
		require.Equal(t, cur == SoundVisualizing, r.sound.running(), "step %d", i)
		require.LessOrEqual(t, r.camera.Live(), 1, "step %d", i)
	}
}
