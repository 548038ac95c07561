package slack

import (
	"strings"
	"unicode/utf8"

	slacklib "github.com/slack-go/slack"
)

// maxSectionText is the longest text Slack accepts in one section block.
const maxSectionText = 3000

// BuildTextBlocks renders markdown text as section blocks, one per
// paragraph. Paragraphs longer than a section allows are split.
func BuildTextBlocks(text string) []slacklib.Block {
	var blocks []slacklib.Block
	for para := range strings.SplitSeq(text, "\n\n") {
		para = strings.TrimSpace(para)
		for para != "" {
			chunk := para
			if len(chunk) > maxSectionText {
				chunk = cutAt(chunk, maxSectionText)
			}
			para = para[len(chunk):]

			blocks = append(blocks, slacklib.NewSectionBlock(
				slacklib.NewTextBlockObject(slacklib.MarkdownType, chunk, false, false),
				nil,
				nil,
			))
		}
	}
	return blocks
}

// cutAt returns the longest prefix of s no longer than n bytes that ends
// on a line break if one exists, else on a rune boundary.
func cutAt(s string, n int) string {
	if i := strings.LastIndexByte(s[:n], '\n'); i > 0 {
		return s[:i+1]
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
