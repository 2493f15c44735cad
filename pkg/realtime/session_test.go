package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxlink/pkg/realtime"
)

func TestHub_OnOffEmit(t *testing.T) {
	t.Parallel()

	var hub realtime.Hub
	var typed, wild int
	id := hub.On(realtime.EventResponseCreated, func(realtime.ServerEvent) { typed++ })
	wid := hub.On(realtime.EventAny, func(realtime.ServerEvent) { wild++ })

	hub.Emit(realtime.ServerEvent{Type: realtime.EventResponseCreated})
	hub.Emit(realtime.ServerEvent{Type: realtime.EventResponseDone})
	if typed != 1 || wild != 2 {
		t.Fatalf("typed=%d wild=%d, want 1/2", typed, wild)
	}

	hub.Off(realtime.EventResponseCreated, id)
	hub.Off(realtime.EventAny, wid)
	hub.Off(realtime.EventAny, 999)
	hub.Emit(realtime.ServerEvent{Type: realtime.EventResponseCreated})
	if typed != 1 || wild != 2 {
		t.Errorf("handlers fired after Off: typed=%d wild=%d", typed, wild)
	}
	if hub.Len() != 0 {
		t.Errorf("Len = %d, want 0", hub.Len())
	}
}

func TestHub_OffDuringEmit(t *testing.T) {
	t.Parallel()

	var hub realtime.Hub
	calls := 0
	var id realtime.ListenerID
	id = hub.On("x", func(realtime.ServerEvent) {
		calls++
		hub.Off("x", id)
	})
	hub.On("x", func(realtime.ServerEvent) { calls++ })

	hub.Emit(realtime.ServerEvent{Type: "x"})
	hub.Emit(realtime.ServerEvent{Type: "x"})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

type boolSender struct{ got []realtime.Event }

func (s *boolSender) Send(ev realtime.Event) bool { s.got = append(s.got, ev); return true }

type errSender struct{ err error }

func (s errSender) Send(realtime.Event) error { return s.err }

type ctxSender struct{ n int }

func (s *ctxSender) SendEvent(context.Context, realtime.Event) error { s.n++; return nil }

type jsonWriter struct{ last any }

func (w *jsonWriter) WriteJSON(v any) error { w.last = v; return nil }

func TestSenderOf(t *testing.T) {
	t.Parallel()

	ev := realtime.NewResponseCancel()
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"bool method", &boolSender{}, true},
		{"error method ok", errSender{}, true},
		{"error method failing", errSender{err: errors.New("closed")}, false},
		{"context method", &ctxSender{}, true},
		{"json writer", &jsonWriter{}, true},
		{"bool func", func(realtime.Event) bool { return false }, false},
		{"error func", func(realtime.Event) error { return nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send, err := realtime.SenderOf(tt.v)
			if err != nil {
				t.Fatalf("SenderOf: %v", err)
			}
			if got := send(ev); got != tt.want {
				t.Errorf("send = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := realtime.SenderOf(42); err == nil {
		t.Error("expected error for unsupported sender")
	}
	if _, err := realtime.SenderOf(nil); err == nil {
		t.Error("expected error for nil sender")
	}
}

func TestCompose(t *testing.T) {
	t.Parallel()

	hub := &realtime.Hub{}
	hist := &realtime.History{}
	state := realtime.StateConnecting
	bs := &boolSender{}
	sess := realtime.Compose(bs.Send, hub, func() realtime.ConnState { return state }, hist)

	if sess.State() != realtime.StateConnecting {
		t.Errorf("State = %v", sess.State())
	}
	state = realtime.StateOpen
	if sess.State() != realtime.StateOpen {
		t.Errorf("State = %v", sess.State())
	}
	if !sess.Send(realtime.NewUserText("hi")) || len(bs.got) != 1 {
		t.Error("send not forwarded")
	}

	hit := false
	sess.On(realtime.EventItemCreated, func(realtime.ServerEvent) { hit = true })
	hub.Emit(realtime.ServerEvent{Type: realtime.EventItemCreated})
	if !hit {
		t.Error("handler not reached through composed session")
	}

	hist.Apply(realtime.ServerEvent{Type: realtime.EventItemCreated, Item: &realtime.Item{ID: "a", Role: realtime.RoleUser}})
	if items := realtime.Items(sess); len(items) != 1 || items[0].ID != "a" {
		t.Errorf("Items = %+v", items)
	}
}

func TestSessionUpdate_CreateResponseFalseIsSerialised(t *testing.T) {
	t.Parallel()

	ev := realtime.NewSessionUpdate(realtime.SessionParams{
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
			CreateResponse:    realtime.Bool(false),
		},
	})
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"type":"session.update"`, `"create_response":false`, `"silence_duration_ms":500`} {
		if !strings.Contains(s, want) {
			t.Errorf("%s missing %s", s, want)
		}
	}
}

func TestNewResponseCreate_Defaults(t *testing.T) {
	t.Parallel()

	ev := realtime.NewResponseCreate(realtime.ResponseParams{Voice: "alloy", Instructions: "be brief"})
	if ev.EventType() != realtime.TypeResponseCreate {
		t.Fatalf("type = %q", ev.EventType())
	}
	if got := strings.Join(ev.Response.Modalities, ","); got != "audio,text" {
		t.Errorf("modalities = %q", got)
	}
	if ev.Response.OutputAudioFormat != "pcm16" {
		t.Errorf("format = %q", ev.Response.OutputAudioFormat)
	}
}

func TestItem_TextAndContent(t *testing.T) {
	t.Parallel()

	it := realtime.Item{Content: []realtime.ContentPart{{Type: realtime.PartAudio, Transcript: "hello"}}}
	if it.Text() != "hello" || !it.HasAudio() || !it.HasContent() {
		t.Errorf("unexpected item view: text=%q audio=%v", it.Text(), it.HasAudio())
	}
	empty := realtime.Item{Content: []realtime.ContentPart{{Type: realtime.PartText, Text: "  "}}}
	if empty.HasContent() {
		t.Error("whitespace-only text counted as content")
	}
}
