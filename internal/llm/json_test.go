package llm

import (
	"errors"
	"testing"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"inline fence", "```{\"a\":1}```", `{"a":1}`},
		{"whitespace", "  \n```json\n{\"a\":1}\n```  \n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		NextAgent string `json:"next_agent"`
	}

	if err := DecodeJSON("Sure! ```json\n{\"next_agent\": \"question\"}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.NextAgent != "question" {
		t.Errorf("next_agent = %q", out.NextAgent)
	}

	if err := DecodeJSON("I cannot help with that.", &out); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}

	if err := DecodeJSON("{not json}", &out); err == nil {
		t.Error("expected syntax error")
	}

	trailing := `{"next_agent": "evaluation"} I picked evaluation because {the patient} answered.`
	if err := DecodeJSON(trailing, &out); err != nil {
		t.Fatalf("DecodeJSON with trailing braces: %v", err)
	}
	if out.NextAgent != "evaluation" {
		t.Errorf("next_agent = %q", out.NextAgent)
	}
}
