package taxonomy

import (
	"sort"
	"strings"
)

// Classify returns the best-matching category for a set of detected labels.
//
// A category matches when any label name or parent name contains one of its
// keywords, or a keyword contains the label name. Among matching categories
// the highest priority wins; ties go to the first declared entry because the
// comparison is strict.
func Classify(labels []LabelRef) Category {
	return classifyAgainst(Default, labels)
}

func classifyAgainst(categories []Category, labels []LabelRef) Category {
	if len(labels) == 0 {
		return FlaggedContent
	}

	var best *Category
	for i := range categories {
		cat := &categories[i]
		if !matches(cat, labels) {
			continue
		}
		if best == nil || cat.Priority > best.Priority {
			best = cat
		}
	}

	if best == nil {
		return SensitiveContent
	}
	return *best
}

func matches(cat *Category, labels []LabelRef) bool {
	for _, label := range labels {
		name := strings.ToLower(label.Name)
		parent := strings.ToLower(label.ParentName)

		for _, kw := range cat.Keywords {
			if strings.Contains(name, kw) || (parent != "" && strings.Contains(parent, kw)) {
				return true
			}
			if name != "" && strings.Contains(kw, name) {
				return true
			}
		}
	}
	return false
}

// Item is one classified image as input to GroupByCategory.
type Item struct {
	ImageID    string
	Category   Category
	Confidence float64
}

// Group collects the images that classified into one category.
type Group struct {
	Category       Category
	ImageIDs       []string
	MeanConfidence float64
}

// GroupByCategory groups already-classified items by their assigned category
// and returns the groups sorted by category priority descending. Each group
// carries the arithmetic mean of its members' confidences. Items carry the
// category rather than labels so the grouping can never disagree with the
// per-image classification. This is the basis for naming smart albums from
// moderation output.
func GroupByCategory(items []Item) []Group {
	type bucket struct {
		category Category
		imageIDs []string
		sum      float64
	}

	buckets := make(map[string]*bucket)
	var order []string
	for _, item := range items {
		b, ok := buckets[item.Category.ID]
		if !ok {
			b = &bucket{category: item.Category}
			buckets[item.Category.ID] = b
			order = append(order, item.Category.ID)
		}
		b.imageIDs = append(b.imageIDs, item.ImageID)
		b.sum += item.Confidence
	}

	groups := make([]Group, 0, len(order))
	for _, id := range order {
		b := buckets[id]
		groups = append(groups, Group{
			Category:       b.category,
			ImageIDs:       b.imageIDs,
			MeanConfidence: b.sum / float64(len(b.imageIDs)),
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Category.Priority > groups[j].Category.Priority
	})
	return groups
}
