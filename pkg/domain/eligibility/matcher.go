// Package eligibility decides which card templates can be issued for a set of services.
package eligibility

import (
	"strings"

	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/repository/model"
)

// category is a group of templates matched together.
type category int

const (
	categoryCombo category = iota
	categoryWash
	categorySoak
	categoryCare
)

// TagComprehensive is an older spelling of the combo tag still found in catalog data.
const TagComprehensive catalog.ServiceType = "comprehensive"

var categoryTags = map[category][]catalog.ServiceType{
	categoryCombo: {catalog.Combo, TagComprehensive},
	categoryWash:  {catalog.Wash},
	categorySoak:  {catalog.Soak, catalog.WashSoak},
	categoryCare:  {catalog.Care},
}

// Match returns the templates that can be issued for the selected services.
// Only wash, soak and care are considered; any other selection, including an
// empty one, returns every template. The result keeps catalog order within a
// category, concatenates categories and never repeats a template id.
func Match(selected []catalog.ServiceType, templates []model.CardTemplate) []model.CardTemplate {
	cats, ok := categoriesFor(selected)
	if !ok {
		return append([]model.CardTemplate(nil), templates...)
	}

	out := make([]model.CardTemplate, 0, len(templates))
	seen := make(map[int64]struct{}, len(templates))
	for _, c := range cats {
		for _, tpl := range templates {
			if !inCategory(tpl, c) {
				continue
			}
			if _, dup := seen[tpl.ID]; dup {
				continue
			}
			seen[tpl.ID] = struct{}{}
			out = append(out, tpl)
		}
	}
	return out
}

func categoriesFor(selected []catalog.ServiceType) ([]category, bool) {
	var wash, soak, care bool
	for _, t := range selected {
		switch t {
		case catalog.Wash:
			wash = true
		case catalog.Soak:
			soak = true
		case catalog.Care:
			care = true
		default:
			return nil, false
		}
	}

	switch {
	case wash && soak && care:
		return []category{categoryCombo}, true
	case wash && !soak && !care:
		return []category{categoryWash}, true
	case soak && !care:
		return []category{categorySoak}, true
	case care && !wash && !soak:
		return []category{categoryCare}, true
	case soak && care:
		return []category{categorySoak, categoryCare, categoryCombo}, true
	case wash && care:
		return []category{categoryWash, categoryCare}, true
	}
	return nil, false
}

func inCategory(tpl model.CardTemplate, c category) bool {
	for _, tag := range categoryTags[c] {
		if tpl.ServiceType == tag {
			return true
		}
	}
	return legacyNameMatch(tpl.Name, c)
}

// legacyNameHints are substrings of template names used when the catalog
// carries no usable service_type tag.
var legacyNameHints = map[category][]string{
	categoryCombo: {"综合"},
	categoryWash:  {"洗头"},
	categorySoak:  {"泡头", "洗泡"},
	categoryCare:  {"养", "保养"},
}

// legacyNameMatch is OR'd with the tag check. Drop it once every template is tagged.
func legacyNameMatch(name string, c category) bool {
	for _, hint := range legacyNameHints[c] {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}
