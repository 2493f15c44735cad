package bridge_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxlink/internal/bridge"
	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/realtime"
	realtimemock "github.com/MrWong99/voxlink/pkg/realtime/mock"
)

func TestBridge_Send(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*session.Registry)
		want    bool
		wantErr error
	}{
		{
			name:    "no session",
			setup:   func(*session.Registry) {},
			wantErr: bridge.ErrTransportNotReady,
		},
		{
			name: "session connecting",
			setup: func(r *session.Registry) {
				s := realtimemock.NewSession()
				s.SetState(realtime.StateConnecting)
				r.Register(s)
			},
			wantErr: bridge.ErrTransportNotReady,
		},
		{
			name: "session rejects",
			setup: func(r *session.Registry) {
				s := realtimemock.NewSession()
				s.SetSendResult(false)
				r.Register(s)
			},
			wantErr: bridge.ErrSendRejected,
		},
		{
			name:  "open session",
			setup: func(r *session.Registry) { r.Register(realtimemock.NewSession()) },
			want:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := session.NewRegistry()
			tt.setup(reg)
			b := bridge.New(reg)

			ev := realtime.NewResponseCancel()
			if got := b.Send(ev); got != tt.want {
				t.Errorf("Send = %v, want %v", got, tt.want)
			}
			err := b.SendOrErr(ev)
			if tt.wantErr == nil && err != nil {
				t.Errorf("SendOrErr = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("SendOrErr = %v, want %v", err, tt.wantErr)
			}
			if b.Ready() != (tt.name == "open session" || tt.name == "session rejects") {
				t.Errorf("Ready = %v", b.Ready())
			}
		})
	}
}
