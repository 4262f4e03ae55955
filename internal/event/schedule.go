package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ItemType discriminates the schedule item variants.
type ItemType string

const (
	TypeTalk           ItemType = "talk"
	TypeBreak          ItemType = "break"
	TypeAnnouncement   ItemType = "announcement"
	TypeLightningTalks ItemType = "lightning-talks"
)

// Author is a single talk author.
type Author struct {
	Name       string `json:"name"`
	PictureURL string `json:"picture_url,omitempty"`
}

// Item is the closed accessor interface shared by all schedule item
// variants. Variants are resolved at parse time; there is no dynamic
// field inheritance.
type Item interface {
	Type() ItemType
	Title() string
	Start() *time.Time
	Authors() []Author
	// Index is the insertion-order position ("lp") within the schedule.
	Index() int
	// Extra is the open bag of additional display attributes.
	Extra() map[string]any
	// Dump flattens the item into the wire representation.
	Dump() map[string]any
}

type itemBase struct {
	start   *time.Time
	index   int
	classes []string
	extra   map[string]any
}

func (b itemBase) Start() *time.Time     { return b.start }
func (b itemBase) Index() int            { return b.index }
func (b itemBase) Extra() map[string]any { return b.extra }

func (b itemBase) dump(typ ItemType, title string) map[string]any {
	m := map[string]any{
		"type":    typ,
		"title":   title,
		"lp":      b.index,
		"classes": b.classes,
	}
	if b.start != nil {
		m["start"] = b.start.Format(time.RFC3339)
	} else {
		m["start"] = nil
	}
	for k, v := range b.extra {
		m[k] = v
	}
	return m
}

// Talk is a scheduled presentation with one or more authors.
type Talk struct {
	itemBase
	title    string
	language string
	authors  []Author
}

func (t Talk) Type() ItemType    { return TypeTalk }
func (t Talk) Title() string     { return t.title }
func (t Talk) Language() string  { return t.language }
func (t Talk) Authors() []Author { return t.authors }

// DisplayAuthor collapses the author list into a single display entry:
// comma-joined names, with a picture only when there is exactly one author.
func (t Talk) DisplayAuthor() Author {
	names := make([]string, len(t.authors))
	for i, a := range t.authors {
		names[i] = a.Name
	}
	author := Author{Name: strings.Join(names, ", ")}
	if len(t.authors) == 1 {
		author.PictureURL = t.authors[0].PictureURL
	}
	return author
}

func (t Talk) Dump() map[string]any {
	m := t.itemBase.dump(TypeTalk, t.title)
	m["language"] = t.language
	m["authors"] = t.authors
	m["author"] = t.DisplayAuthor()
	return m
}

func (t Talk) MarshalJSON() ([]byte, error) { return json.Marshal(t.Dump()) }

// Break is a pause between segments.
type Break struct {
	itemBase
	title string
}

func (b Break) Type() ItemType              { return TypeBreak }
func (b Break) Title() string               { return b.title }
func (b Break) Authors() []Author           { return nil }
func (b Break) Dump() map[string]any        { return b.itemBase.dump(TypeBreak, b.title) }
func (b Break) MarshalJSON() ([]byte, error) { return json.Marshal(b.Dump()) }

// Announcement is an organizer announcement slot.
type Announcement struct {
	itemBase
	title string
}

func (a Announcement) Type() ItemType       { return TypeAnnouncement }
func (a Announcement) Title() string        { return a.title }
func (a Announcement) Authors() []Author    { return nil }
func (a Announcement) Dump() map[string]any { return a.itemBase.dump(TypeAnnouncement, a.title) }
func (a Announcement) MarshalJSON() ([]byte, error) { return json.Marshal(a.Dump()) }

// LightningTalks is the lightning talk block; its title is synthetic.
type LightningTalks struct {
	itemBase
}

func (l LightningTalks) Type() ItemType       { return TypeLightningTalks }
func (l LightningTalks) Title() string        { return "Lightning talks" }
func (l LightningTalks) Authors() []Author    { return nil }
func (l LightningTalks) Dump() map[string]any { return l.itemBase.dump(TypeLightningTalks, l.Title()) }
func (l LightningTalks) MarshalJSON() ([]byte, error) { return json.Marshal(l.Dump()) }

// Schedule is the immutable ordered sequence of items for one event.
type Schedule []Item

// ExtraColumns returns the sorted union of extra attribute keys present
// across all items, for dynamic table columns.
func (s Schedule) ExtraColumns() []string {
	seen := make(map[string]struct{})
	for _, item := range s {
		for k := range item.Extra() {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

// ParseSchedule resolves a list of raw item tables into a Schedule,
// assigning insertion-order indexes.
func ParseSchedule(list []map[string]any) (Schedule, error) {
	schedule := make(Schedule, 0, len(list))
	for i, raw := range list {
		item, err := parseItem(raw, i)
		if err != nil {
			return nil, err
		}
		schedule = append(schedule, item)
	}
	return schedule, nil
}

// knownItemKeys are consumed by the variant structs; everything else on an
// item table lands in the extra bag.
var knownItemKeys = map[string]struct{}{
	"type": {}, "title": {}, "start": {}, "classes": {},
	"language": {}, "author": {}, "authors": {}, "lp": {},
}

func parseItem(raw map[string]any, index int) (Item, error) {
	base := itemBase{index: index, extra: make(map[string]any)}

	if v, ok := raw["start"]; ok && v != nil {
		start, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("item %d: invalid start: %w", index, err)
		}
		base.start = &start
	}
	if v, ok := raw["classes"]; ok {
		base.classes = toStringSlice(v)
	}
	for k, v := range raw {
		if _, known := knownItemKeys[k]; !known {
			base.extra[k] = v
		}
	}

	typ, _ := raw["type"].(string)
	switch ItemType(typ) {
	case TypeTalk:
		title, ok := raw["title"].(string)
		if !ok {
			return nil, fmt.Errorf("item %d: talk requires a title", index)
		}
		language, _ := raw["language"].(string)
		authors, err := parseAuthors(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", index, err)
		}
		return Talk{itemBase: base, title: title, language: language, authors: authors}, nil
	case TypeBreak:
		title := "Break"
		if t, ok := raw["title"].(string); ok {
			title = t
		}
		return Break{itemBase: base, title: title}, nil
	case TypeAnnouncement:
		title, ok := raw["title"].(string)
		if !ok {
			return nil, fmt.Errorf("item %d: announcement requires a title", index)
		}
		return Announcement{itemBase: base, title: title}, nil
	case TypeLightningTalks:
		return LightningTalks{itemBase: base}, nil
	default:
		return nil, fmt.Errorf("item %d: unknown schedule item type %q", index, typ)
	}
}

// parseAuthors accepts either the authors list or the legacy single-author
// form, which is normalized to a one-element list.
func parseAuthors(raw map[string]any) ([]Author, error) {
	if v, ok := raw["authors"]; ok {
		list, ok := toMapSlice(v)
		if !ok {
			return nil, fmt.Errorf("authors must be a list of tables")
		}
		authors := make([]Author, 0, len(list))
		for _, m := range list {
			author, err := parseAuthor(m)
			if err != nil {
				return nil, err
			}
			authors = append(authors, author)
		}
		return authors, nil
	}
	if v, ok := raw["author"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("author must be a table")
		}
		author, err := parseAuthor(m)
		if err != nil {
			return nil, err
		}
		return []Author{author}, nil
	}
	return nil, nil
}

func parseAuthor(m map[string]any) (Author, error) {
	name, ok := m["name"].(string)
	if !ok || name == "" {
		return Author{}, fmt.Errorf("author requires a name")
	}
	picture, _ := m["picture_url"].(string)
	return Author{Name: name, PictureURL: picture}, nil
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339, t)
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}

func toStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, el := range list {
		if s, ok := el.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toMapSlice(v any) ([]map[string]any, bool) {
	switch list := v.(type) {
	case []map[string]any:
		return list, true
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, el := range list {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}
