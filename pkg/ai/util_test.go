package ai

import (
	"errors"
	"testing"
)

type mentions struct {
	Entities []string `json:"entities"`
}

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "valid json object",
			input: `{"entities":["Acme Corp"]}`,
			want:  []string{"Acme Corp"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{entities: ['Acme Corp']}`,
			want:  []string{"Acme Corp"},
		},
		{
			name:  "trailing comma",
			input: `{"entities":["Acme Corp",],}`,
			want:  []string{"Acme Corp"},
		},
		{
			name:  "stringified object",
			input: `"{\"entities\":[\"Acme Corp\",\"Globex Inc\"]}"`,
			want:  []string{"Acme Corp", "Globex Inc"},
		},
		{
			name:  "fenced json",
			input: "```json\n{\"entities\":[\"Globex Inc\"]}\n```",
			want:  []string{"Globex Inc"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"entities\": [\"Acme Corp\"]\n}\n",
			want:  []string{"Acme Corp"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got mentions
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if len(got.Entities) != len(tc.want) {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got.Entities, tc.want)
			}
			for i := range tc.want {
				if got.Entities[i] != tc.want[i] {
					t.Fatalf("entities[%d] = %q, want %q", i, got.Entities[i], tc.want[i])
				}
			}
		})
	}
}

func TestUnmarshalFlexible_MissingKeyLeavesZeroValue(t *testing.T) {
	var got mentions
	if err := UnmarshalFlexible(`{}`, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if got.Entities != nil {
		t.Fatalf("expected nil entities, got %v", got.Entities)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	var got mentions
	err := UnmarshalFlexible("hello", &got)
	if err == nil {
		t.Fatal("UnmarshalFlexible() expected error for unrecoverable input")
	}
	if KindOf(err) != FailureMalformed {
		t.Fatalf("KindOf() = %q, want %q", KindOf(err), FailureMalformed)
	}
}

func TestUnmarshalFlexible_Empty(t *testing.T) {
	var got mentions
	err := UnmarshalFlexible("   ", &got)
	if KindOf(err) != FailureEmpty {
		t.Fatalf("KindOf() = %q, want %q", KindOf(err), FailureEmpty)
	}
	var aiErr *Error
	if !errors.As(err, &aiErr) || aiErr.Op != "decode" {
		t.Fatalf("expected decode *Error, got %v", err)
	}
}
