package mupdf

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

func trimSpace(s string) string { return strings.TrimSpace(s) }

// cleanText drops blank lines, bare page numbers and lines without a single
// letter or digit, then rejoins lines broken mid-sentence. Headings are kept:
// they are the strongest section signal in a minute book.
func cleanText(text string, pageNum int) string {
	lines := strings.Split(text, "\n")
	var kept []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isPageNumber(trimmed, pageNum) || isNoise(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}

	return strings.TrimSpace(fixBrokenLines(kept))
}

func isPageNumber(line string, pageNum int) bool {
	if line == strconv.Itoa(pageNum) {
		return true
	}

	patterns := []string{
		fmt.Sprintf("Page %d", pageNum),
		fmt.Sprintf("- %d -", pageNum),
		fmt.Sprintf("[%d]", pageNum),
	}
	for _, pattern := range patterns {
		if strings.EqualFold(line, pattern) {
			return true
		}
	}
	return false
}

func isNoise(line string) bool {
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// fixBrokenLines joins a line that does not end a sentence with a following
// line that starts in lowercase.
func fixBrokenLines(lines []string) string {
	var fixed []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if i < len(lines)-1 {
			next := lines[i+1]
			last := line[len(line)-1]
			isSentenceEnd := strings.IndexByte(".!?:;", last) >= 0
			first := []rune(next)[0]

			if !isSentenceEnd && unicode.IsLower(first) && !strings.HasSuffix(line, "-") {
				fixed = append(fixed, line+" "+next)
				i++
				continue
			}
		}
		fixed = append(fixed, line)
	}

	return strings.Join(fixed, "\n")
}
