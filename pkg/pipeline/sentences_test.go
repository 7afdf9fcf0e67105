package pipeline

import (
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: []string(nil),
		},
		{
			name: "single sentence",
			text: "Hello world.",
			want: []string{"Hello world."},
		},
		{
			name: "multiple sentences",
			text: "Hello world. This is a test! How are you?",
			want: []string{"Hello world.", "This is a test!", "How are you?"},
		},
		{
			name: "blank lines end sentences",
			text: "First sentence\n\nSecond sentence.\n\nThird sentence.",
			want: []string{"First sentence", "Second sentence.", "Third sentence."},
		},
		{
			name: "sentence across lines",
			text: "This is a long\nsentence that spans\nmultiple lines.",
			want: []string{"This is a long sentence that spans multiple lines."},
		},
		{
			name: "table kept together",
			text: "Introduction text.\nHeader1 | Header2\n------- | -------\nValue1  | Value2\nConclusion text.",
			want: []string{
				"Introduction text.",
				"Header1 | Header2\n------- | -------\nValue1  | Value2",
				"Conclusion text.",
			},
		},
		{
			name: "pipe rows without delimiter",
			text: "Header1 | Header2\nValue1  | Value2",
			want: []string{"Header1 | Header2", "Value1  | Value2"},
		},
		{
			name: "table between blank lines",
			text: "Start here.\n\n| Col1 | Col2 |\n|------|------|\n| Val1 | Val2 |\n\nEnd here!",
			want: []string{
				"Start here.",
				"| Col1 | Col2 |\n|------|------|\n| Val1 | Val2 |",
				"End here!",
			},
		},
		{
			name: "numbered list stays together",
			text: "Today we discuss three points. 1. First item 2. Second item 3. Third item. Done!",
			want: []string{
				"Today we discuss three points.",
				"1. First item 2. Second item 3. Third item.",
				"Done!",
			},
		},
		{
			name: "quoted punctuation does not end the sentence",
			text: `He said "stop!" and left. (Really?) Yes.`,
			want: []string{`He said "stop!" and left.`, "(Really?) Yes."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitSentences() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMeaningfulSentences(t *testing.T) {
	got := meaningfulSentences("Short. This one is long enough. Tiny!\n\nAnother long sentence here.")
	want := []string{"This one is long enough.", "Another long sentence here."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("meaningfulSentences() = %#v, want %#v", got, want)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo wörld", 5); got != "héllo" {
		t.Errorf("truncate() = %q, want %q", got, "héllo")
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("truncate() = %q, want %q", got, "abc")
	}
}
