package htmlsanitize

import "testing"

func TestStrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "plain text untouched",
			input: "Meeting notes",
			want:  "Meeting notes",
		},
		{
			name:  "tags removed, text kept",
			input: "<b>Budget</b> 2025",
			want:  "Budget 2025",
		},
		{
			name:  "script removed entirely",
			input: "notes<script>alert('xss')</script>",
			want:  "notes",
		},
		{
			name:  "img onerror removed",
			input: `photo<img src=x onerror="alert(1)">.jpg`,
			want:  "photo.jpg",
		},
		{
			name:  "entities unescaped back to text",
			input: "a < b & c > d",
			want:  "a < b & c > d",
		},
		{
			name:  "anchor stripped to its text",
			input: `<a href="https://evil.example">click</a>`,
			want:  "click",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Strip(tt.input); got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"trims whitespace", "  Recipes  ", "Recipes"},
		{"markup only collapses to empty", "<script></script>", ""},
		{"tag plus padding", " <i>Trip</i> ", "Trip"},
		{"plain name", "Trip photos", "Trip photos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.input); got != tt.want {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
