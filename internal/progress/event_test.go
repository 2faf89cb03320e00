package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		evt  Event
		want string
	}{
		{
			name: "started",
			evt:  Event{Kind: KindJobStarted, Total: 6, Dur: 300 * time.Second},
			want: "Starting screenshot process (6 captures). Estimated time: 5.00 minutes.",
		},
		{
			name: "task",
			evt:  Event{Kind: KindTaskStarted, Device: "desktop", Locale: "EN", URL: "https://ex.com/p"},
			want: "Capturing desktop view for EN: https://ex.com/p",
		},
		{
			name: "failed",
			evt:  Event{Kind: KindTaskFailed, URL: "https://ex.com/p", Err: "navigation timeout after 60s"},
			want: "Failed to capture screenshot for https://ex.com/p: navigation timeout after 60s",
		},
		{
			name: "elapsed",
			evt:  Event{Kind: KindJobElapsed, Dur: 90 * time.Second},
			want: "Actual time taken: 1.50 minutes.",
		},
		{
			name: "completed",
			evt:  Event{Kind: KindJobCompleted, ArchivePath: "/out/a.zip", Link: "/download?path=/out/a.zip"},
			want: "Process completed. Download: /download?path=/out/a.zip",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.evt.Message())
		})
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	require.NoError(t, taskEvent(KindTaskStarted).Validate())
	require.Error(t, Event{Kind: KindTaskStarted, TS: now}.Validate())
	require.Error(t, Event{JobID: "j", Kind: KindTaskFailed, URL: "u", TS: now}.Validate())
	require.Error(t, Event{JobID: "j", Kind: KindJobCompleted, TS: now}.Validate())
	require.Error(t, Event{JobID: "j", Kind: "BOGUS", TS: now}.Validate())
	require.NoError(t, Event{Kind: KindConnected, TS: now}.Validate())
}

func TestTeeSkipsNil(t *testing.T) {
	t.Parallel()

	var got []Kind
	tee := Tee{nil, EmitterFunc(func(e Event) { got = append(got, e.Kind) }), OrDiscard(nil)}
	tee.Emit(Event{Kind: KindJobElapsed})
	require.Equal(t, []Kind{KindJobElapsed}, got)
}
