package workspace

import (
	"fmt"
	"strings"
)

const indentUnit = "  "

// Render flattens a block tree into plain text by depth-first traversal.
// Structural blocks get a distinguishing prefix and nested blocks are
// indented one level per depth. Render performs no I/O.
func Render(blocks []*Block) string {
	var b strings.Builder
	renderBlocks(&b, blocks, 0)
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RenderPage renders a full page: a title heading, a source line, then the
// block text.
func RenderPage(title, sourceURL string, blocks []*Block) string {
	if title == "" {
		title = "Untitled"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	if sourceURL != "" {
		fmt.Fprintf(&b, "Source: %s\n", sourceURL)
	}
	b.WriteString("\n")
	renderBlocks(&b, blocks, 0)
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderBlocks(b *strings.Builder, blocks []*Block, depth int) {
	number := 0
	for _, blk := range blocks {
		if blk.Type == "numbered_list_item" {
			number++
		} else {
			number = 0
		}
		if line, ok := renderLine(blk, number); ok {
			indent := strings.Repeat(indentUnit, depth)
			for _, l := range strings.Split(line, "\n") {
				b.WriteString(indent)
				b.WriteString(l)
				b.WriteString("\n")
			}
		}
		if len(blk.Children) > 0 {
			renderBlocks(b, blk.Children, depth+1)
		}
	}
}

// renderLine returns the text for one block, and false for blocks that
// contribute nothing themselves.
func renderLine(blk *Block, number int) (string, bool) {
	text := blk.Text
	switch blk.Type {
	case "heading_1":
		return "# " + text, true
	case "heading_2":
		return "## " + text, true
	case "heading_3":
		return "### " + text, true
	case "bulleted_list_item":
		return "- " + text, true
	case "numbered_list_item":
		return fmt.Sprintf("%d. %s", number, text), true
	case "to_do":
		if blk.Checked {
			return "[x] " + text, true
		}
		return "[ ] " + text, true
	case "quote":
		return "> " + text, true
	case "toggle":
		return "▸ " + text, true
	case "callout":
		if blk.Icon != "" {
			return blk.Icon + " " + text, true
		}
		return "Note: " + text, true
	case "code":
		return "```" + blk.Language + "\n" + text + "\n```", true
	case "divider":
		return "---", true
	case "child_page":
		return "Page: " + text, true
	case "child_database":
		return "Database: " + text, true
	case "bookmark", "embed", "link_preview":
		if text == "" {
			return "", false
		}
		return "Link: " + text, true
	case "paragraph":
		if text == "" {
			return "", false
		}
		return text, true
	default:
		if text == "" {
			return "", false
		}
		return text, true
	}
}
