package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelink/pkg/stream"
	"github.com/MrWong99/voicelink/pkg/stream/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// setupMsg is the wire shape of the client's setup frame, as seen server-side.
type setupMsg struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
			SpeechConfig       *struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	} `json:"setup"`
}

// audioContent builds a serverContent frame carrying one base64 audio part
// and, optionally, the interrupted flag.
func audioContent(interrupted bool, audio []byte) map[string]any {
	content := map[string]any{"interrupted": interrupted}
	if audio != nil {
		content["modelTurn"] = map[string]any{
			"parts": []map[string]any{
				{"inlineData": map[string]any{
					"mimeType": "audio/pcm;rate=24000",
					"data":     base64.StdEncoding.EncodeToString(audio),
				}},
			},
		}
	}
	return map[string]any{"serverContent": content}
}

func recvEvent(t *testing.T, h stream.Handle) stream.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return stream.Event{}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestConnect_SendsSetupWithVoiceAndInstructions(t *testing.T) {
	t.Parallel()

	setupCh := make(chan setupMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		setupCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), stream.Config{
		Voice:        "Aoede",
		Instructions: "You are a helpful assistant.",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case msg := <-setupCh:
		if want := "models/custom-model"; msg.Setup.Model != want {
			t.Errorf("model = %q, want %q", msg.Setup.Model, want)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "audio" {
			t.Errorf("responseModalities = %v, want [audio]", got)
		}
		sc := msg.Setup.GenerationConfig.SpeechConfig
		if sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Aoede" {
			t.Errorf("speechConfig voice missing or wrong: %+v", sc)
		}
		si := msg.Setup.SystemInstruction
		if si == nil || len(si.Parts) != 1 || si.Parts[0].Text != "You are a helpful assistant." {
			t.Errorf("systemInstruction missing or wrong: %+v", si)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received setup message")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	p := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Connect(ctx, stream.Config{}); err == nil {
		t.Fatal("Connect to dead endpoint succeeded, want error")
	}
}

func TestSendAudio_EncodesBase64PCM(t *testing.T) {
	t.Parallel()

	chunkCh := make(chan string, 1)
	mimeCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMsg
		readJSON(t, conn, &setup)

		var msg struct {
			RealtimeInput struct {
				MediaChunks []struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"mediaChunks"`
			} `json:"realtimeInput"`
		}
		readJSON(t, conn, &msg)
		if len(msg.RealtimeInput.MediaChunks) == 1 {
			chunkCh <- msg.RealtimeInput.MediaChunks[0].Data
			mimeCh <- msg.RealtimeInput.MediaChunks[0].MIMEType
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), stream.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := handle.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case data := <-chunkCh:
		if want := base64.StdEncoding.EncodeToString(pcm); data != want {
			t.Errorf("chunk data = %q, want %q", data, want)
		}
		if mime := <-mimeCh; mime != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q, want audio/pcm;rate=16000", mime)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received audio chunk")
	}
}

func TestEvents_AudioDecodedInOrder(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMsg
		readJSON(t, conn, &setup)
		writeJSON(t, conn, audioContent(false, []byte("first")))
		writeJSON(t, conn, audioContent(false, []byte("second")))
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), stream.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if ev := recvEvent(t, handle); string(ev.Audio) != "first" || ev.Interrupted {
		t.Errorf("event 1 = %+v, want audio %q", ev, "first")
	}
	if ev := recvEvent(t, handle); string(ev.Audio) != "second" {
		t.Errorf("event 2 audio = %q, want %q", ev.Audio, "second")
	}
}

func TestEvents_InterruptionPrecedesAudioFromSameMessage(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMsg
		readJSON(t, conn, &setup)
		writeJSON(t, conn, audioContent(true, []byte("new-turn")))
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), stream.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if ev := recvEvent(t, handle); !ev.Interrupted || ev.Audio != nil {
		t.Fatalf("event 1 = %+v, want bare interruption", ev)
	}
	if ev := recvEvent(t, handle); string(ev.Audio) != "new-turn" {
		t.Fatalf("event 2 audio = %q, want %q", ev.Audio, "new-turn")
	}
}

func TestEvents_MessageWithNeitherIsIgnored(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMsg
		readJSON(t, conn, &setup)
		// turnComplete only — no interruption, no audio.
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		writeJSON(t, conn, audioContent(false, []byte("after")))
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), stream.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	// The no-op message produces no event; the next event is the audio.
	if ev := recvEvent(t, handle); string(ev.Audio) != "after" {
		t.Errorf("event = %+v, want audio %q", ev, "after")
	}
}

func TestEvents_ClosedOnServerDisconnect(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMsg
		readJSON(t, conn, &setup)
		// Handler returns: server closes the connection.
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), stream.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case _, ok := <-handle.Events():
		if ok {
			t.Fatal("expected events channel to close, got event")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel never closed after server disconnect")
	}
}

func TestClose_IdempotentAndRejectsSend(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMsg
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), stream.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	err = handle.SendAudio([]byte{0, 0})
	if !errors.Is(err, stream.ErrClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
}
