package vision

import (
	"sort"
	"strings"
)

// lineTolerance is how far below a line's top a word may start and still
// belong to that line.
const lineTolerance = 10

// Word is one text annotation with the top-left corner of its box.
type Word struct {
	Text string
	X    int64
	Y    int64
}

// ReadingOrder rebuilds lines from OCR annotations. The first annotation is
// the full-text block returned by the API and is skipped. The rest are sorted
// by top y; a word joins the current line when its y is within
// lineTolerance of the line's first word. Words in a line are sorted by x and
// joined with spaces, lines are joined with ", ".
func ReadingOrder(annotations []Word) string {
	if len(annotations) < 2 {
		return ""
	}

	words := make([]Word, len(annotations)-1)
	copy(words, annotations[1:])
	sort.SliceStable(words, func(i, j int) bool { return words[i].Y < words[j].Y })

	var lines [][]Word
	var lineY int64
	for _, w := range words {
		if len(lines) == 0 || w.Y > lineY+lineTolerance {
			lines = append(lines, []Word{w})
			lineY = w.Y
			continue
		}
		lines[len(lines)-1] = append(lines[len(lines)-1], w)
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
		texts := make([]string, 0, len(line))
		for _, w := range line {
			texts = append(texts, w.Text)
		}
		out = append(out, strings.Join(texts, " "))
	}
	return strings.Join(out, ", ")
}
