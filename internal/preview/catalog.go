package preview

import "strings"

const DefaultStyleID = "minimalist"

// Style is one background preset offered to the user.
type Style struct {
	ID     string
	Name   string
	Prompt string
}

var defaultStyles = []Style{
	{
		ID:     "minimalist",
		Name:   "Clean Desk",
		Prompt: "top down view of a clean white desk, empty center area, soft natural window lighting, minimalist aesthetic, high quality texture, 8k",
	},
	{
		ID:     "warm",
		Name:   "Cozy Wood",
		Prompt: "top down view of a wooden table surface, warm cozy atmosphere, soft morning sunlight, blurred coffee cup in corner, empty center, lifestyle photography",
	},
	{
		ID:     "concrete",
		Name:   "Urban Concrete",
		Prompt: "top down view of grey concrete surface, sharp texture, modern minimalist shadow, harsh lighting, empty center for product placement",
	},
	{
		ID:     "nature",
		Name:   "Botanical",
		Prompt: "flatlay background with green eucalyptus leaves on edges, white stone surface, soft shadows, organic feel, empty center, bright lighting",
	},
	{
		ID:     "dark",
		Name:   "Elegant Dark",
		Prompt: "dark black matte texture background, dramatic spotlight, elegant shadows, premium luxury feel, gold dust accents on edges, empty center",
	},
	{
		ID:     "marble",
		Name:   "Marble Luxury",
		Prompt: "white carrara marble surface background, expensive look, soft reflections, bright studio lighting, empty center",
	},
}

// Catalog is an ordered, read-only list of styles.
type Catalog struct {
	styles []Style
}

func DefaultCatalog() Catalog {
	return NewCatalog(defaultStyles)
}

func NewCatalog(styles []Style) Catalog {
	out := make([]Style, len(styles))
	copy(out, styles)
	return Catalog{styles: out}
}

func (c Catalog) Styles() []Style {
	out := make([]Style, len(c.styles))
	copy(out, c.styles)
	return out
}

func (c Catalog) Len() int { return len(c.styles) }

func (c Catalog) Lookup(id string) (Style, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, s := range c.styles {
		if s.ID == id {
			return s, true
		}
	}
	return Style{}, false
}

// Default returns the DefaultStyleID entry, or the first style when the
// catalog does not carry it.
func (c Catalog) Default() Style {
	if s, ok := c.Lookup(DefaultStyleID); ok {
		return s
	}
	if len(c.styles) > 0 {
		return c.styles[0]
	}
	return Style{}
}

// MatchSuggestion returns the first style whose display name contains the
// suggestion, ignoring case. Blank suggestions never match.
func (c Catalog) MatchSuggestion(suggested string) (Style, bool) {
	needle := strings.ToLower(strings.TrimSpace(suggested))
	if needle == "" {
		return Style{}, false
	}
	for _, s := range c.styles {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			return s, true
		}
	}
	return Style{}, false
}

func (c Catalog) Names() []string {
	out := make([]string, 0, len(c.styles))
	for _, s := range c.styles {
		out = append(out, s.Name)
	}
	return out
}
