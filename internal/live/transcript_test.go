package live

import (
	"reflect"
	"sync"
	"testing"
)

func TestMerge(t *testing.T) {
	t.Parallel()

	var turns []Turn
	turns = Merge(turns, "Nova", "Hel")
	turns = Merge(turns, "Nova", "lo")
	turns = Merge(turns, "User", "Hi")

	want := []Turn{{Role: "Nova", Text: "Hello"}, {Role: "User", Text: "Hi"}}
	if !reflect.DeepEqual(turns, want) {
		t.Errorf("turns = %+v, want %+v", turns, want)
	}
}

func TestMerge_RoleChangeStartsNewTurn(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		fragments [][2]string
		want      []Turn
	}{
		{
			name:      "empty",
			fragments: nil,
			want:      nil,
		},
		{
			name:      "alternating roles",
			fragments: [][2]string{{"Nova", "a"}, {"User", "b"}, {"Nova", "c"}},
			want:      []Turn{{"Nova", "a"}, {"User", "b"}, {"Nova", "c"}},
		},
		{
			name:      "same role many fragments",
			fragments: [][2]string{{"User", "one "}, {"User", "two "}, {"User", "three"}},
			want:      []Turn{{"User", "one two three"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var turns []Turn
			for _, f := range tt.fragments {
				turns = Merge(turns, f[0], f[1])
			}
			if !reflect.DeepEqual(turns, tt.want) {
				t.Errorf("turns = %+v, want %+v", turns, tt.want)
			}
		})
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []Turn{{Role: "Nova", Text: "Hel"}}
	out := Merge(in, "Nova", "lo")
	if in[0].Text != "Hel" {
		t.Errorf("input mutated: %+v", in)
	}
	if out[0].Text != "Hello" {
		t.Errorf("output = %+v", out)
	}
}

func TestTranscript_ConcurrentAdd(t *testing.T) {
	t.Parallel()
	var tr Transcript
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add("Nova", "x")
		}()
	}
	wg.Wait()

	turns := tr.Turns()
	if len(turns) != 1 || len(turns[0].Text) != 50 {
		t.Fatalf("turns = %+v, want one turn of 50 characters", turns)
	}

	tr.Reset()
	if got := tr.Turns(); len(got) != 0 {
		t.Errorf("after Reset turns = %+v", got)
	}
}
