package telephony

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voxline-ai/voxline/internal/audio"
)

type hookRecorder struct {
	mu         sync.Mutex
	registered []string
	rebinds    [][2]string
	audio      [][]byte
	closed     int
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnRegistered: func(callID string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.registered = append(h.registered, callID)
		},
		OnIdentityChanged: func(oldID, newID string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.rebinds = append(h.rebinds, [2]string{oldID, newID})
		},
		OnAudio: func(pcm []byte) {
			h.mu.Lock()
			defer h.mu.Unlock()
			buf := make([]byte, len(pcm))
			copy(buf, pcm)
			h.audio = append(h.audio, buf)
		},
		OnClosed: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.closed++
		},
	}
}

func (h *hookRecorder) snapshot() hookRecorder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hookRecorder{
		registered: append([]string(nil), h.registered...),
		rebinds:    append([][2]string(nil), h.rebinds...),
		audio:      append([][]byte(nil), h.audio...),
		closed:     h.closed,
	}
}

func startSession(t *testing.T) (*Session, net.Conn, *hookRecorder, chan struct{}) {
	t.Helper()
	local, remote := net.Pipe()
	rec := &hookRecorder{}
	sess := NewSession(local, rec.hooks(), nil, nil)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		sess.ReadLoop()
	}()
	return sess, remote, rec, loopDone
}

func writeFrame(t *testing.T, conn net.Conn, ft audio.FrameType, payload []byte) {
	t.Helper()
	frame, err := audio.Encode(ft, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func waitLoop(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not exit")
	}
}

func TestHandshakeRegistersOnce(t *testing.T) {
	sess, remote, rec, loopDone := startSession(t)

	id := uuid.New()
	writeFrame(t, remote, audio.FrameHandshake, id[:])
	writeFrame(t, remote, audio.FrameHandshake, id[:])

	id2 := uuid.New()
	writeFrame(t, remote, audio.FrameHandshake, id2[:])

	remote.Close()
	waitLoop(t, loopDone)

	snap := rec.snapshot()
	if len(snap.registered) != 1 || snap.registered[0] != id.String() {
		t.Fatalf("registered = %v, want exactly one %s", snap.registered, id)
	}
	if len(snap.rebinds) != 1 || snap.rebinds[0] != [2]string{id.String(), id2.String()} {
		t.Fatalf("rebinds = %v", snap.rebinds)
	}
	if sess.ID() != id2.String() {
		t.Fatalf("session id = %q, want %q", sess.ID(), id2)
	}
}

func TestAudioFramesDeliveredInOrder(t *testing.T) {
	_, remote, rec, loopDone := startSession(t)

	id := uuid.New()
	writeFrame(t, remote, audio.FrameHandshake, id[:])
	writeFrame(t, remote, audio.FrameAudio, []byte{1, 1})
	writeFrame(t, remote, audio.FrameSilence, nil)
	writeFrame(t, remote, audio.FrameAudio, []byte{2, 2})

	remote.Close()
	waitLoop(t, loopDone)

	snap := rec.snapshot()
	if len(snap.audio) != 2 {
		t.Fatalf("got %d audio chunks, want 2", len(snap.audio))
	}
	if snap.audio[0][0] != 1 || snap.audio[1][0] != 2 {
		t.Fatalf("audio chunks out of order: %v", snap.audio)
	}
}

func TestHangupFrameClosesSession(t *testing.T) {
	sess, remote, rec, loopDone := startSession(t)

	id := uuid.New()
	writeFrame(t, remote, audio.FrameHandshake, id[:])
	writeFrame(t, remote, audio.FrameHangup, nil)

	waitLoop(t, loopDone)
	if !sess.Closed() {
		t.Fatalf("session not closed after hangup frame")
	}
	if snap := rec.snapshot(); snap.closed != 1 {
		t.Fatalf("closed hook fired %d times, want 1", snap.closed)
	}
}

func TestTransportErrorIsHangup(t *testing.T) {
	sess, remote, rec, loopDone := startSession(t)
	remote.Close()
	waitLoop(t, loopDone)
	if !sess.Closed() {
		t.Fatalf("session not closed after transport loss")
	}
	if snap := rec.snapshot(); snap.closed != 1 {
		t.Fatalf("closed hook fired %d times, want 1", snap.closed)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sess, remote, rec, loopDone := startSession(t)
	sess.Close()
	sess.Close()
	remote.Close()
	waitLoop(t, loopDone)
	if snap := rec.snapshot(); snap.closed != 1 {
		t.Fatalf("closed hook fired %d times, want 1", snap.closed)
	}
}

func TestSendAudioSplitsLargeBuffers(t *testing.T) {
	sess, remote, _, loopDone := startSession(t)

	payload := make([]byte, audio.MaxPayload+100)
	for i := range payload {
		payload[i] = byte(i)
	}

	var (
		frames []audio.Frame
		readMu sync.Mutex
	)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		dec := audio.NewDecoder()
		buf := make([]byte, 4096)
		for {
			n, err := remote.Read(buf)
			if n > 0 {
				dec.Write(buf[:n])
				for {
					frame, ok := dec.Next()
					if !ok {
						break
					}
					readMu.Lock()
					frames = append(frames, frame)
					readMu.Unlock()
				}
			}
			if err == io.EOF || err != nil {
				return
			}
		}
	}()

	if err := sess.SendAudio(payload); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	sess.Close()
	waitLoop(t, loopDone)
	<-readDone

	readMu.Lock()
	defer readMu.Unlock()
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	var got []byte
	for _, f := range frames {
		if f.Type != audio.FrameAudio {
			t.Fatalf("frame type = %v", f.Type)
		}
		got = append(got, f.Payload...)
	}
	if len(got) != len(payload) {
		t.Fatalf("reassembled %d bytes, want %d", len(got), len(payload))
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("payload mismatch at byte %d", i)
		}
	}
}
