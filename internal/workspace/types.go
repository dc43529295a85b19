// Package workspace is a client for the hierarchical workspace content API
// (pages made of nested blocks, plus databases of pages) and a renderer that
// flattens a fetched block tree into plain text.
package workspace

import (
	"encoding/json"
	"strings"
	"time"
)

// RichText is one run of formatted text; only the plain form is kept.
type RichText struct {
	PlainText string `json:"plain_text"`
}

func joinRichText(parts []RichText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return b.String()
}

// Page is a workspace page's metadata.
type Page struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Title          string    `json:"-"`
	Archived       bool      `json:"archived"`
	LastEditedTime time.Time `json:"last_edited_time"`
}

// UnmarshalJSON extracts the title from whichever property has type "title".
func (p *Page) UnmarshalJSON(data []byte) error {
	type plain Page
	var raw struct {
		plain
		Properties map[string]struct {
			Type  string     `json:"type"`
			Title []RichText `json:"title"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Page(raw.plain)
	for _, prop := range raw.Properties {
		if prop.Type == "title" {
			p.Title = joinRichText(prop.Title)
			break
		}
	}
	return nil
}

// Block is one node of a page's content tree. Children are filled in by the
// fetcher; the API only reports HasChildren.
type Block struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	HasChildren bool     `json:"has_children"`
	Text        string   `json:"-"`
	Checked     bool     `json:"-"`
	Language    string   `json:"-"`
	Icon        string   `json:"-"`
	Children    []*Block `json:"-"`
}

type blockPayload struct {
	RichText []RichText `json:"rich_text"`
	Title    string     `json:"title"`
	Checked  bool       `json:"checked"`
	Language string     `json:"language"`
	URL      string     `json:"url"`
	Icon     *struct {
		Emoji string `json:"emoji"`
	} `json:"icon"`
}

// UnmarshalJSON reads the type-specific payload stored under the key named
// by the block's type.
func (b *Block) UnmarshalJSON(data []byte) error {
	var head struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		HasChildren bool   `json:"has_children"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	b.ID, b.Type, b.HasChildren = head.ID, head.Type, head.HasChildren

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	raw, ok := fields[head.Type]
	if !ok || len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var payload blockPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	b.Text = joinRichText(payload.RichText)
	if b.Text == "" {
		b.Text = payload.Title
	}
	if b.Text == "" {
		b.Text = payload.URL
	}
	b.Checked = payload.Checked
	b.Language = payload.Language
	if payload.Icon != nil {
		b.Icon = payload.Icon.Emoji
	}
	return nil
}

// PageList is one page of a paginated page listing.
type PageList struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// BlockList is one page of a paginated block-children listing.
type BlockList struct {
	Results    []*Block `json:"results"`
	HasMore    bool     `json:"has_more"`
	NextCursor string   `json:"next_cursor"`
}
