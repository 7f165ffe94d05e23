package overlay

import (
	"testing"

	"github.com/veritaslabs/aletheia/protocol"
)

// recordingRenderer counts renderer calls per element.
type recordingRenderer struct {
	mounts, updates, unmounts int
}

func (r *recordingRenderer) Mount(*Badge)   { r.mounts++ }
func (r *recordingRenderer) Update(*Badge)  { r.updates++ }
func (r *recordingRenderer) Unmount(*Badge) { r.unmounts++ }

// fakeViewport lets tests fire layout events and count subscriptions.
type fakeViewport struct {
	subs    []func()
	cancels int
}

func (v *fakeViewport) Subscribe(fn func()) func() {
	v.subs = append(v.subs, fn)
	return func() { v.cancels++ }
}

func (v *fakeViewport) fire() {
	for _, fn := range v.subs {
		fn()
	}
}

func TestTransition_Table(t *testing.T) {
	valid := &protocol.Verdict{Status: protocol.StatusValid}
	none := &protocol.Verdict{Status: protocol.StatusNone}

	cases := []struct {
		name   string
		from   State
		event  Event
		want   State
		accept bool
	}{
		{"start from none", StateNone, Event{Kind: EventStart}, StateLoading, true},
		{"start supersedes verdict", StateValid, Event{Kind: EventStart}, StateLoading, true},
		{"result from loading", StateLoading, Event{Kind: EventResult, Verdict: valid}, StateValid, true},
		{"result maps none status", StateLoading, Event{Kind: EventResult, Verdict: none}, StateNoCredentials, true},
		{"result without verdict rejected", StateLoading, Event{Kind: EventResult}, StateLoading, false},
		{"late result repaints", StateValid, Event{Kind: EventResult, Verdict: none}, StateNoCredentials, true},
		{"fail from loading", StateLoading, Event{Kind: EventFail}, StateError, true},
		{"dismiss from verdict", StateExpired, Event{Kind: EventDismiss}, StateNone, true},
		{"dismiss while loading rejected", StateLoading, Event{Kind: EventDismiss}, StateLoading, false},
		{"element removed from loading", StateLoading, Event{Kind: EventElementRemoved}, StateNone, true},
		{"element removed from verdict", StateInvalid, Event{Kind: EventElementRemoved}, StateNone, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Transition(tc.from, tc.event)
			if got != tc.want || ok != tc.accept {
				t.Fatalf("Transition(%s, %s): got (%s, %v), want (%s, %v)",
					tc.from, tc.event.Kind, got, ok, tc.want, tc.accept)
			}
		})
	}
}

func TestManager_OneBadgePerElement(t *testing.T) {
	r := &recordingRenderer{}
	m := NewManager(r)

	// Two overlapping requests for the same element.
	m.Begin("img_0001")
	m.Begin("img_0001")

	if m.Count() != 1 {
		t.Fatalf("Count: got %d, want 1", m.Count())
	}
	if r.unmounts != 1 {
		t.Errorf("unmounts: got %d, want 1 (first badge superseded)", r.unmounts)
	}
	if r.mounts != 2 {
		t.Errorf("mounts: got %d, want 2", r.mounts)
	}
}

func TestManager_InterleavedElementsStayIndependent(t *testing.T) {
	r := &recordingRenderer{}
	m := NewManager(r)

	m.Begin("a")
	m.Begin("b")
	// Results arrive in the opposite order to the starts.
	m.Apply("b", &protocol.Verdict{Status: protocol.StatusNone})
	m.Apply("a", &protocol.Verdict{Status: protocol.StatusValid})

	if s, _ := m.Snapshot("a"); s != StateValid {
		t.Errorf("a: got %s, want valid", s)
	}
	if s, _ := m.Snapshot("b"); s != StateNoCredentials {
		t.Errorf("b: got %s, want none-found", s)
	}
}

func TestManager_ResultWithoutStartMountsBadge(t *testing.T) {
	r := &recordingRenderer{}
	m := NewManager(r)

	// The started notification was lost; the result must still render.
	m.Apply("img_0001", &protocol.Verdict{Status: protocol.StatusExpired})

	if s, v := m.Snapshot("img_0001"); s != StateExpired || v == nil {
		t.Fatalf("Snapshot: got (%s, %v)", s, v)
	}
	if r.mounts != 1 {
		t.Errorf("mounts: got %d, want 1", r.mounts)
	}
}

func TestManager_DismissOnlyInVerdictStates(t *testing.T) {
	m := NewManager(&recordingRenderer{})

	m.Begin("img_0001")
	if m.Dismiss("img_0001") {
		t.Error("Dismiss while loading succeeded")
	}

	m.Apply("img_0001", &protocol.Verdict{Status: protocol.StatusValid})
	if !m.Dismiss("img_0001") {
		t.Error("Dismiss in verdict state failed")
	}
	if m.Count() != 0 {
		t.Errorf("Count after dismiss: got %d, want 0", m.Count())
	}
	if m.Dismiss("img_0001") {
		t.Error("Dismiss of missing badge succeeded")
	}
}

func TestManager_ViewportSubscriptionLifecycle(t *testing.T) {
	r := &recordingRenderer{}
	v := &fakeViewport{}
	m := NewManager(r, WithViewport(v))

	m.Begin("img_0001")
	if len(v.subs) != 1 {
		t.Fatalf("subscriptions: got %d, want 1", len(v.subs))
	}

	v.fire()
	if r.updates != 1 {
		t.Errorf("updates after layout event: got %d, want 1", r.updates)
	}

	m.ElementRemoved("img_0001")
	if v.cancels != 1 {
		t.Errorf("cancels: got %d, want 1", v.cancels)
	}

	// A late layout event for the removed element must not repaint.
	v.fire()
	if r.updates != 1 {
		t.Errorf("updates after removal: got %d, want 1", r.updates)
	}

	// Removing again must not double-cancel.
	m.ElementRemoved("img_0001")
	if v.cancels != 1 {
		t.Errorf("cancels after second removal: got %d, want 1", v.cancels)
	}
}

func TestManager_SupersedeCancelsOldSubscription(t *testing.T) {
	v := &fakeViewport{}
	m := NewManager(&recordingRenderer{}, WithViewport(v))

	m.Begin("img_0001")
	m.Begin("img_0001")

	if v.cancels != 1 {
		t.Errorf("cancels: got %d, want 1 (superseded badge released)", v.cancels)
	}
	if len(v.subs) != 2 {
		t.Errorf("subscriptions: got %d, want 2", len(v.subs))
	}
}

func TestManager_Clear(t *testing.T) {
	r := &recordingRenderer{}
	m := NewManager(r)
	m.Begin("a")
	m.Begin("b")
	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count: got %d, want 0", m.Count())
	}
	if r.unmounts != 2 {
		t.Errorf("unmounts: got %d, want 2", r.unmounts)
	}
}
