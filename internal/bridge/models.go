package bridge

// MSX content page JSON. The renderer consumes camelCase field names; empty
// fields must be omitted or the UI renders blank rows.

// MSXTemplate is the shared item template of a content page.
type MSXTemplate struct {
	Type        string `json:"type,omitempty"`
	Layout      string `json:"layout,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Action      string `json:"action,omitempty"`
	ImageFiller string `json:"imageFiller,omitempty"`
}

// MSXItem is one row of a content page or playlist.
type MSXItem struct {
	Title       string `json:"title,omitempty"`
	Label       string `json:"label,omitempty"`
	Image       string `json:"image,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Action      string `json:"action,omitempty"`
	Background  string `json:"background,omitempty"`
	PlayerLabel string `json:"playerLabel,omitempty"`
	TitleFooter string `json:"titleFooter,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	NextAction  string `json:"nextAction,omitempty"`
	PrevAction  string `json:"prevAction,omitempty"`
	Content     string `json:"content,omitempty"`
	URL         string `json:"url,omitempty"`
	Type        string `json:"type,omitempty"`
}

// MSXContent is a full content page or playlist document.
type MSXContent struct {
	Type     string       `json:"type"`
	Headline string       `json:"headline,omitempty"`
	Template *MSXTemplate `json:"template,omitempty"`
	Items    []MSXItem    `json:"items,omitempty"`
	Action   string       `json:"action,omitempty"`
	Hint     string       `json:"hint,omitempty"`
}
