// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ErrEntryNotFound is returned when the document has no block
// labelled with the requested entry.
var ErrEntryNotFound = errors.New("entry not found in document")

// ExtractEntry returns the contents of the fenced code block that
// directly follows a paragraph consisting of exactly one code span
// whose text is entry. The first labelled paragraph that has such a
// block wins; a label followed by anything else is skipped. If every
// label for entry lacks a block, the error says so rather than
// reporting the entry missing.
func ExtractEntry(document, entry string) (string, error) {
	source := []byte(document)
	root := goldmark.New().Parser().Parse(text.NewReader(source))

	unfenced := false
	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		if node.Kind() != ast.KindParagraph || labelOf(node, source) != entry {
			continue
		}
		block, ok := node.NextSibling().(*ast.FencedCodeBlock)
		if !ok {
			unfenced = true
			continue
		}
		var content strings.Builder
		lines := block.Lines()
		for index := 0; index < lines.Len(); index++ {
			segment := lines.At(index)
			content.Write(segment.Value(source))
		}
		return content.String(), nil
	}
	if unfenced {
		return "", fmt.Errorf("entry %q is not followed by a fenced code block", entry)
	}
	return "", fmt.Errorf("%w: %q", ErrEntryNotFound, entry)
}

// RenderEntry formats content as a labelled block that ExtractEntry
// reads back: a paragraph holding label as a code span, then a fenced
// block. The fence is longer than any backtick run in content. The
// leading blank line ends whatever paragraph precedes the block.
func RenderEntry(label, content string) string {
	fence := strings.Repeat("`", max(3, longestRun(content, '`')+1))
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return "\n`" + label + "`\n\n" + fence + "\n" + content + fence + "\n\n"
}

func longestRun(s string, c byte) int {
	longest, current := 0, 0
	for index := 0; index < len(s); index++ {
		if s[index] != c {
			current = 0
			continue
		}
		current++
		longest = max(longest, current)
	}
	return longest
}

// labelOf returns the code span text of a paragraph whose only child
// is a code span, or "".
func labelOf(paragraph ast.Node, source []byte) string {
	span := paragraph.FirstChild()
	if span == nil || span.NextSibling() != nil || span.Kind() != ast.KindCodeSpan {
		return ""
	}
	var label strings.Builder
	for child := span.FirstChild(); child != nil; child = child.NextSibling() {
		switch node := child.(type) {
		case *ast.Text:
			label.Write(node.Segment.Value(source))
		case *ast.String:
			label.Write(node.Value)
		}
	}
	return label.String()
}
