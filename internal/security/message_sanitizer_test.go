package security

import (
	"testing"
)

func TestSanitize_KeepsPlainText(t *testing.T) {
	sanitizer := NewMessageSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "プレーンテキストはそのまま",
			input: "こんにちは",
			want:  "こんにちは",
		},
		{
			name:  "タグに見える比較式は削られない",
			input: "if a<b and c>d then swap",
			want:  "if a<b and c>d then swap",
		},
		{
			name:  "エンティティはデコードされない",
			input: "&lt;script&gt;alert(1)&lt;/script&gt;",
			want:  "&lt;script&gt;alert(1)&lt;/script&gt;",
		},
		{
			name:  "タグはテキストとして残る",
			input: "<b>太字</b>",
			want:  "<b>太字</b>",
		},
		{
			name:  "比較記号とアンパサンドは保たれる",
			input: "a < b & c",
			want:  "a < b & c",
		},
		{
			name:  "改行とタブは保たれる",
			input: "1行目\n\t2行目",
			want:  "1行目\n\t2行目",
		},
		{
			name:  "空文字列は空文字列",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_RemovesControlCharacters(t *testing.T) {
	sanitizer := NewMessageSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "NULとベル", input: "a\x00b\x07c", want: "abc"},
		{name: "CRは除去", input: "a\r\nb", want: "a\nb"},
		{name: "C1制御文字", input: "a\u0085b", want: "ab"},
		{name: "双方向上書き文字", input: "abc\u202edef\u2066g\u2069", want: "abcdefg"},
		{name: "不正なUTF-8は置換文字", input: "a\xffb", want: "a\ufffdb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewMessageSanitizer()

	inputs := []string{
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"if a<b and c>d then swap",
		"<p>hello <a href=\"javascript:alert(1)\">world</a></p>",
		"x\x00\u202ey\xfe",
	}

	for _, input := range inputs {
		first := sanitizer.Sanitize(input)
		second := sanitizer.Sanitize(first)
		if first != second {
			t.Errorf("Sanitize is not idempotent for %q: %q -> %q", input, first, second)
		}
	}
}
