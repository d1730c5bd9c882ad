package taxonomy

// Category is one entry in the static moderation taxonomy. Higher priority
// means a more specific or more severe category.
type Category struct {
	ID          string
	DisplayName string
	Description string
	Icon        string
	Priority    int
	Keywords    []string
}

// LabelRef is the minimal view of a detected label the classifier needs.
type LabelRef struct {
	Name       string
	ParentName string
}

// FlaggedContent is returned when no labels are available at all. It is a
// real Category value so callers never need a nil case.
var FlaggedContent = Category{
	ID:          "flagged",
	DisplayName: "Flagged Content",
	Description: "Content flagged by automated moderation",
	Icon:        "flag",
	Priority:    1,
}

// SensitiveContent is returned when labels exist but none match any
// taxonomy entry.
var SensitiveContent = Category{
	ID:          "sensitive",
	DisplayName: "Sensitive Content",
	Description: "Content that may be sensitive",
	Icon:        "eye-off",
	Priority:    2,
}

// Default is the display taxonomy, loaded once at process start. Keywords
// are lowercase; matching against the external vocabulary is deliberately
// loose (bidirectional substring) to tolerate naming drift upstream.
//
// Declaration order breaks priority ties: the first declared entry wins.
var Default = []Category{
	{
		ID:          "explicit",
		DisplayName: "Explicit Content",
		Description: "Nudity and sexual content",
		Icon:        "alert-octagon",
		Priority:    100,
		Keywords:    []string{"explicit nudity", "explicit", "nudity", "sexual activity", "sexual"},
	},
	{
		ID:          "suggestive",
		DisplayName: "Suggestive",
		Description: "Revealing or suggestive imagery",
		Icon:        "alert-triangle",
		Priority:    60,
		Keywords:    []string{"suggestive", "revealing clothes", "swimwear", "underwear", "partial nudity"},
	},
	{
		ID:          "violence",
		DisplayName: "Violence",
		Description: "Violent or graphic imagery",
		Icon:        "swords",
		Priority:    90,
		Keywords:    []string{"violence", "graphic violence", "weapon", "blood", "gore", "self injury"},
	},
	{
		ID:          "disturbing",
		DisplayName: "Visually Disturbing",
		Description: "Disturbing or shocking imagery",
		Icon:        "skull",
		Priority:    80,
		Keywords:    []string{"visually disturbing", "emaciated", "corpses", "air crash", "explosions"},
	},
	{
		ID:          "substances",
		DisplayName: "Substances",
		Description: "Drugs, tobacco and alcohol",
		Icon:        "pill",
		Priority:    50,
		Keywords:    []string{"drugs", "tobacco", "alcohol", "smoking", "drinking", "pills"},
	},
	{
		ID:          "hate",
		DisplayName: "Hate Symbols",
		Description: "Hate symbols and extremist imagery",
		Icon:        "ban",
		Priority:    95,
		Keywords:    []string{"hate symbols", "nazi", "white supremacy", "extremist"},
	},
	{
		ID:          "rude",
		DisplayName: "Rude Gestures",
		Description: "Obscene gestures",
		Icon:        "hand",
		Priority:    30,
		Keywords:    []string{"rude gestures", "middle finger"},
	},
	{
		ID:          "gambling",
		DisplayName: "Gambling",
		Description: "Gambling imagery",
		Icon:        "dices",
		Priority:    20,
		Keywords:    []string{"gambling"},
	},
}
