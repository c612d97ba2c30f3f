package notify

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestLogSinkWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	sink := LogSink{Prefix: "room: "}
	sink.Notify(Event{Kind: LanguageChanged, Value: "go", Message: "Editor language set to Go."})
	sink.Notify(Event{Kind: Joined, ClientID: 3, Name: "Quiet Otter"})

	out := buf.String()
	if !strings.Contains(out, "room: Editor language set to Go.") {
		t.Fatalf("missing message line in %q", out)
	}
	if !strings.Contains(out, "room: Quiet Otter joined") {
		t.Fatalf("missing join line in %q", out)
	}
}

func TestFuncAndDiscard(t *testing.T) {
	var got []Event
	Func(func(ev Event) { got = append(got, ev) }).Notify(Event{Kind: Left})
	Discard.Notify(Event{Kind: Left})
	if len(got) != 1 || got[0].Kind != Left {
		t.Fatalf("unexpected events %+v", got)
	}
}
