package bridge

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestVerboseLog_Dedup(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	v := newVerboseLog(true)
	v.send("a", "hello")
	v.send("b", "hello")
	v.send("c", "hello")
	v.send("a", "hello")
	v.send("b", "other")
	v.close("b")
	v.send("c", "other")

	var got []string
	for _, e := range hook.AllEntries() {
		if e.Data["prefix"] == "verbose" {
			got = append(got, e.Message)
		}
	}
	want := []string{"send", "send (repeated)", "send (repeated)", "send", "send", "close", "send"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestVerboseLog_Disabled(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	logrus.SetLevel(logrus.InfoLevel)

	v := newVerboseLog(false)
	v.send("a", "hello")
	v.close("a")

	if len(hook.AllEntries()) != 0 {
		t.Errorf("disabled verbose log wrote %d entries", len(hook.AllEntries()))
	}
}
