package sink

import (
	"errors"
	"testing"
)

type nullSink struct{}

func (nullSink) WriteFrame([]byte) error { return nil }
func (nullSink) Close() error            { return nil }

func TestRegistryCreate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var gotOpts Options
	r.Register("null", func(opts Options) (Sink, error) {
		gotOpts = opts
		return nullSink{}, nil
	})

	s, err := r.Create("null", Options{Output: "/tmp/out.mp3"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if s == nil {
		t.Fatal("Create() returned nil sink")
	}
	if gotOpts.Output != "/tmp/out.mp3" {
		t.Errorf("factory received Output = %q", gotOpts.Output)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Create("tape", Options{}); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Create(unknown) = %v, want ErrNotRegistered", err)
	}
}

func TestRegistryKindsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	factory := func(Options) (Sink, error) { return nullSink{}, nil }
	r.Register("transcript", factory)
	r.Register("pipe", factory)
	r.Register("subprocess", factory)

	kinds := r.Kinds()
	want := []string{"pipe", "subprocess", "transcript"}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("Kinds() = %v, want %v", kinds, want)
		}
	}
}
