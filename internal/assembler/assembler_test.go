package assembler

import (
	"context"
	"testing"
	"time"

	"github.com/scalytics/cdcbridge/internal/catalog"
)

type fakeReader struct {
	fragments []Fragment
	err       error
}

func (f *fakeReader) FetchFragments(ctx context.Context, entry catalog.Entry, sourceID string) ([]Fragment, error) {
	return f.fragments, f.err
}

func verintEntry() catalog.Entry {
	return catalog.Entry{
		SourceKey:          "verint",
		ValidChannels:      []string{"A", "C"},
		RequiredChannels:   []string{"A", "C"},
		MinSegments:        5,
		DestinationTypeTag: "CALL",
	}
}

func TestAssembleHappyPath(t *testing.T) {
	base := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	frags := make([]Fragment, 0, 12)
	for i := 0; i < 12; i++ {
		tag := "A"
		if i%2 == 1 {
			tag = "C"
		}
		frags = append(frags, Fragment{
			AccountKey:    "ACC1",
			SubscriberKey: "SUB1",
			ChannelTag:    tag,
			Text:          "hello",
			FragmentTime:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	reader := &fakeReader{fragments: frags}

	conv, reason, err := Assemble(context.Background(), reader, verintEntry(), "CALL001", time.Now())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if reason != SkipNone {
		t.Fatalf("reason = %q, want none", reason)
	}
	if conv.MessageCount != 12 {
		t.Errorf("MessageCount = %d, want 12", conv.MessageCount)
	}
	if conv.DestinationTypeTag != "CALL" {
		t.Errorf("DestinationTypeTag = %q, want CALL", conv.DestinationTypeTag)
	}
	if !conv.StartTime.Equal(base) {
		t.Errorf("StartTime = %v, want %v", conv.StartTime, base)
	}
}

func TestAssembleShortConversationRejected(t *testing.T) {
	frags := []Fragment{
		{ChannelTag: "A", Text: "hi", FragmentTime: time.Now()},
		{ChannelTag: "C", Text: "hi", FragmentTime: time.Now()},
	}
	reader := &fakeReader{fragments: frags}

	conv, reason, err := Assemble(context.Background(), reader, verintEntry(), "CASE42", time.Now())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if conv != nil {
		t.Fatal("expected no conversation for short input")
	}
	if reason != SkipShort {
		t.Errorf("reason = %q, want short", reason)
	}
}

func TestAssembleMissingRequiredChannelRejected(t *testing.T) {
	frags := make([]Fragment, 20)
	for i := range frags {
		frags[i] = Fragment{ChannelTag: "A", Text: "hi", FragmentTime: time.Now()}
	}
	reader := &fakeReader{fragments: frags}

	conv, reason, err := Assemble(context.Background(), reader, verintEntry(), "CALL002", time.Now())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if conv != nil {
		t.Fatal("expected no conversation when required channel missing")
	}
	if reason != SkipMissingChannels {
		t.Errorf("reason = %q, want missing-channels", reason)
	}
}

func TestAssembleSkipsEmptyTextFragments(t *testing.T) {
	base := time.Now()
	frags := []Fragment{
		{ChannelTag: "A", Text: "  ", FragmentTime: base},
		{ChannelTag: "C", Text: "real text", FragmentTime: base},
		{ChannelTag: "A", Text: "", FragmentTime: base},
		{ChannelTag: "C", Text: "more", FragmentTime: base},
		{ChannelTag: "A", Text: "final", FragmentTime: base},
	}
	reader := &fakeReader{fragments: frags}

	conv, reason, err := Assemble(context.Background(), reader, verintEntry(), "CALL003", time.Now())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if reason != SkipNone {
		t.Fatalf("reason = %q, want none", reason)
	}
	if conv.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3 (empty-text fragments skipped)", conv.MessageCount)
	}
}
