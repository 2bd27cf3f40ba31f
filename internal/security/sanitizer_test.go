package security

import (
	"strings"
	"testing"
)

func TestTextSanitizer_Sanitize(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
		wantAbsent   []string
	}{
		{
			name:         "改行が<br>になる",
			input:        "line1\nline2\r\nline3",
			wantContains: []string{"line1<br>line2<br>line3"},
		},
		{
			name:         "強調とリストは残る",
			input:        "<strong>Protein</strong><ul><li>eggs</li></ul>",
			wantContains: []string{"<strong>Protein</strong>", "<li>eggs</li>"},
		},
		{
			name:         "scriptは中身ごと除去される",
			input:        "ok<script>alert('x')</script>",
			wantContains: []string{"ok"},
			wantAbsent:   []string{"<script", "alert"},
		},
		{
			name:         "リンクはテキストだけ残る",
			input:        `<a href="https://evil.example">click</a>`,
			wantContains: []string{"click"},
			wantAbsent:   []string{"<a", "href"},
		},
		{
			name:       "イベント属性は除去される",
			input:      `<p onclick="steal()">hi</p>`,
			wantAbsent: []string{"onclick", "steal"},
		},
		{
			name:         "比較記号はエスケープされる",
			input:        "sugar < 5g",
			wantContains: []string{"sugar &lt; 5g"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, want to contain %q", tt.input, got, want)
				}
			}
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

func TestTextSanitizer_Empty(t *testing.T) {
	if got := NewTextSanitizer().Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q", got)
	}
}
