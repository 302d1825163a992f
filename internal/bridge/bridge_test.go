package bridge

import (
	"errors"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/gen4eva/page"
	"github.com/hazyhaar/gen4eva/sched"
)

func testBridge(t *testing.T) (*Bridge, *sched.Virtual) {
	t.Helper()
	v := sched.NewVirtual(time.Unix(0, 0))
	b := newBridge(nil, v, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	return b, v
}

func TestScript_Stamped(t *testing.T) {
	s := Script()
	if strings.Contains(s, revisionToken) {
		t.Fatal("revision token left in script")
	}
	if !strings.Contains(s, "revision: "+Revision()) {
		t.Error("header does not carry the revision")
	}
	if !strings.Contains(s, binding) {
		t.Errorf("script does not reference binding %q", binding)
	}
	if !strings.HasPrefix(s, "// gen4eva page bridge") {
		t.Error("header must come first")
	}
}

func TestRevisionOf(t *testing.T) {
	tests := []struct {
		name     string
		settings []debug.BuildSetting
		want     string
	}{
		{"none", nil, "unknown"},
		{"clean", []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}, {Key: "vcs.modified", Value: "false"}}, "0123456"},
		{"dirty", []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}, {Key: "vcs.modified", Value: "true"}}, "0123456-dirty"},
		{"short", []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}}, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := revisionOf(tt.settings); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeReply(t *testing.T) {
	var ns []wireNode
	err := decodeReply("byClass", `{"ok":true,"v":[{"h":"b1","tag":"div","cls":"a b","text":"x","img":2}]}`, &ns)
	if err != nil {
		t.Fatal(err)
	}
	got := nodes(ns)
	want := page.Node{Handle: "b1", Tag: "div", Class: "a b", Text: "x", Images: 2}
	if len(got) != 1 || got[0] != want {
		t.Errorf("nodes: got %+v, want [%+v]", got, want)
	}

	var parent *wireNode
	if err := decodeReply("parent", `{"ok":true,"v":null}`, &parent); err != nil || parent != nil {
		t.Errorf("null parent: %v %+v", err, parent)
	}

	err = decodeReply("click", `{"ok":false,"err":"click on detached element b9"}`, nil)
	if !errors.Is(err, ErrScript) || !strings.Contains(err.Error(), "b9") {
		t.Errorf("script error: got %v", err)
	}

	if err := decodeReply("x", "not json", nil); err == nil {
		t.Error("garbage reply accepted")
	}
}

func TestCall_WithoutPage(t *testing.T) {
	b, _ := testBridge(t)
	if _, err := b.ByTag(t.Context(), "button"); !errors.Is(err, ErrNoPage) {
		t.Errorf("got %v, want ErrNoPage", err)
	}
}

func TestDispatch_Mutation(t *testing.T) {
	b, v := testBridge(t)
	var got [][]page.Record
	o := b.register(func(recs []page.Record) { got = append(got, recs) })

	b.dispatch(`{"t":"mutation","o":"` + o.id + `","r":[
		{"type":"childList","target":{"h":"b1","tag":"div"},"added":[{"h":"b2","tag":"div","cls":"frame","img":1}]},
		{"type":"attributes","target":{"h":"b3","tag":"img"},"attr":"src"}]}`)
	if len(got) != 0 {
		t.Fatal("callback ran off the loop")
	}
	v.Drain()

	if len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("batches: %+v", got)
	}
	if r := got[0][0]; r.Type != page.ChildList || r.Added[0].Class != "frame" || r.Added[0].Images != 1 {
		t.Errorf("childList record: %+v", r)
	}
	if r := got[0][1]; r.Type != page.Attributes || r.AttributeName != "src" || r.Target.Handle != "b3" {
		t.Errorf("attributes record: %+v", r)
	}
}

func TestDispatch_DisconnectedDropsPending(t *testing.T) {
	b, v := testBridge(t)
	calls := 0
	o := b.register(func([]page.Record) { calls++ })

	b.dispatch(`{"t":"mutation","o":"` + o.id + `","r":[]}`)
	o.Disconnect()
	v.Drain()
	b.dispatch(`{"t":"mutation","o":"` + o.id + `","r":[]}`)
	v.Drain()

	if calls != 0 {
		t.Errorf("calls after disconnect: %d", calls)
	}
	if len(b.observers) != 0 {
		t.Errorf("observer still registered")
	}
}

func TestDispatch_ClickAndSignal(t *testing.T) {
	b, v := testBridge(t)
	clicks, signals := 0, 0
	b.controls["b7"] = func() { clicks++ }
	b.signals["gen_4eva"] = map[int]func(){1: func() { signals++ }, 2: func() { signals++ }}

	b.dispatch(`{"t":"click","h":"b7"}`)
	b.dispatch(`{"t":"click","h":"b8"}`)
	b.dispatch(`{"t":"signal","n":"gen_4eva"}`)
	b.dispatch(`{"t":"signal","n":"other"}`)
	b.dispatch(`garbage`)
	v.Drain()

	if clicks != 1 || signals != 2 {
		t.Errorf("clicks=%d signals=%d, want 1/2", clicks, signals)
	}
}

func TestDispatch_ReadyRecordsRevision(t *testing.T) {
	b, v := testBridge(t)
	b.dispatch(`{"t":"ready","rev":"abc1234"}`)
	v.Drain()
	if got := b.PageRevision(); got != "abc1234" {
		t.Errorf("page revision: %q", got)
	}
}

func TestDispatch_ReadyFromNewDocumentRunsReloadHandlers(t *testing.T) {
	b, v := testBridge(t)
	reloads := 0
	cancel, err := b.OnReload(t.Context(), func() { reloads++ })
	if err != nil {
		t.Fatal(err)
	}

	b.dispatch(`{"t":"ready","rev":"abc1234","doc":"k1"}`)
	b.dispatch(`{"t":"ready","rev":"abc1234","doc":"k1"}`)
	v.Drain()
	if reloads != 0 {
		t.Fatalf("reloads after first document: %d, want 0", reloads)
	}

	b.dispatch(`{"t":"ready","rev":"abc1234","doc":"k2"}`)
	v.Drain()
	if reloads != 1 {
		t.Fatalf("reloads after navigation: %d, want 1", reloads)
	}

	cancel()
	b.dispatch(`{"t":"ready","rev":"abc1234","doc":"k3"}`)
	v.Drain()
	if reloads != 1 {
		t.Errorf("cancelled handler ran: %d", reloads)
	}
}

func TestScript_HandlesAreDocumentScoped(t *testing.T) {
	s := Script()
	if !strings.Contains(s, `DOC + ":" + (++seq)`) {
		t.Error("handles are not prefixed with the document id")
	}
	if !strings.Contains(s, "doc: DOC") {
		t.Error("ready message does not report the document id")
	}
}

func TestScript_TextOnlyOnTagLookups(t *testing.T) {
	s := Script()
	start := strings.Index(s, "const snap = ")
	end := strings.Index(s, "const snapText = ")
	if start < 0 || end < start {
		t.Fatal("snapshot helpers not found")
	}
	if strings.Contains(s[start:end], "textContent") {
		t.Error("plain snapshots carry text content")
	}
	if !strings.Contains(s, "byTag: (tag) => elements(document.getElementsByTagName(tag)).map(snapText)") {
		t.Error("tag lookups do not carry text")
	}
	if !strings.Contains(s, ".slice(0, TEXT_MAX)") {
		t.Error("text is not capped")
	}
}

func TestDropSignal(t *testing.T) {
	b, _ := testBridge(t)
	b.signals["s"] = map[int]func(){1: func() {}, 2: func() {}}
	if b.dropSignal("s", 1) {
		t.Error("first drop reported last")
	}
	if !b.dropSignal("s", 2) {
		t.Error("second drop not reported last")
	}
	if _, ok := b.signals["s"]; ok {
		t.Error("empty signal set kept")
	}
}
