package profilefs

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestEvents_OrderAndUnsubscribe(t *testing.T) {
	e := newEvents(discardLogger())

	var calls []string
	first := e.OnInitializationStarted(func() { calls = append(calls, "first") })
	e.OnInitializationStarted(func() { calls = append(calls, "second") })

	e.fire(&e.initStarted, "initialization_started")
	first()
	first()
	e.fire(&e.initStarted, "initialization_started")

	want := []string{"first", "second", "second"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestEvents_PanickingSubscriber(t *testing.T) {
	var logs bytes.Buffer
	e := newEvents(slog.New(slog.NewTextHandler(&logs, nil)))

	var got []*Profile
	e.OnProfileDeleted(func(*Profile) { panic("subscriber bug") })
	e.OnProfileDeleted(func(p *Profile) { got = append(got, p) })

	p := &Profile{displayName: "Save A"}
	e.fireProfile(&e.deleted, "profile_deleted", p)

	if len(got) != 1 || got[0] != p {
		t.Errorf("second subscriber got %v, want [%v]", got, p)
	}
	if !strings.Contains(logs.String(), "event subscriber panicked") ||
		!strings.Contains(logs.String(), "subscriber bug") {
		t.Errorf("panic not logged, logs = %q", logs.String())
	}
}

func TestEvents_Created(t *testing.T) {
	e := newEvents(discardLogger())

	var gotArgs CreateArgs
	unsubscribe := e.OnProfileCreated(func(_ *Profile, args CreateArgs) { gotArgs = args })
	defer unsubscribe()

	e.fireCreated(&Profile{}, CreateArgs{Name: "Save A", Activate: true})
	if gotArgs.Name != "Save A" || !gotArgs.Activate {
		t.Errorf("args = %+v", gotArgs)
	}
}
