package normalize

import (
	"strings"

	"civsphere/event-ingester/internal/model"
)

// Classifier infers controlled-vocabulary labels from free text.
// Implementations return "" when nothing matched.
type Classifier interface {
	Category(text string) string
	Region(text string) string
}

// KeywordRule labels text containing ALL of When (case-insensitive).
type KeywordRule struct {
	When     []string `yaml:"when"`
	Category string   `yaml:"category"`
	Region   string   `yaml:"region"`
}

// KeywordClassifier is the shared keyword-table classifier used by the
// normalizer and by adapters whose payloads lack structured fields.
type KeywordClassifier struct {
	rules []kwRule
}

type kwRule struct {
	words    []string
	category string
	region   string
}

var defaultCategoryRules = []KeywordRule{
	{When: []string{"terrorism"}, Category: model.CategoryTerrorism},
	{When: []string{"terrorist"}, Category: model.CategoryTerrorism},
	{When: []string{"war"}, Category: model.CategoryConflict},
	{When: []string{"conflict"}, Category: model.CategoryConflict},
	{When: []string{"military"}, Category: model.CategoryConflict},
	{When: []string{"battle"}, Category: model.CategoryConflict},
	{When: []string{"invasion"}, Category: model.CategoryConflict},
	{When: []string{"treaty"}, Category: model.CategoryAlliance},
	{When: []string{"agreement"}, Category: model.CategoryAlliance},
	{When: []string{"alliance"}, Category: model.CategoryAlliance},
	{When: []string{"crisis"}, Category: model.CategoryCrisis},
	{When: []string{"emergency"}, Category: model.CategoryCrisis},
	{When: []string{"disaster"}, Category: model.CategoryCrisis},
	{When: []string{"pandemic"}, Category: model.CategoryCrisis},
	{When: []string{"earthquake"}, Category: model.CategoryCrisis},
	{When: []string{"economy"}, Category: model.CategoryEconomic},
	{When: []string{"economic"}, Category: model.CategoryEconomic},
	{When: []string{"trade"}, Category: model.CategoryEconomic},
	{When: []string{"sanctions"}, Category: model.CategoryEconomic},
	{When: []string{"technology"}, Category: model.CategoryTechnology},
	{When: []string{"tech"}, Category: model.CategoryTechnology},
	{When: []string{"digital"}, Category: model.CategoryTechnology},
	{When: []string{"cyber"}, Category: model.CategoryTechnology},
	{When: []string{"politics"}, Category: model.CategoryPolitical},
	{When: []string{"political"}, Category: model.CategoryPolitical},
	{When: []string{"election"}, Category: model.CategoryPolitical},
	{When: []string{"government"}, Category: model.CategoryPolitical},
}

// Order matters: the hybrid and the more specific regions come first.
var defaultRegionRules = []KeywordRule{
	{When: []string{"africa", "europe"}, Region: model.RegionEuropeAfrica},
	{When: []string{"african", "european"}, Region: model.RegionEuropeAfrica},
	{When: []string{"middle east"}, Region: model.RegionMiddleEast},
	{When: []string{"syria"}, Region: model.RegionMiddleEast},
	{When: []string{"iran"}, Region: model.RegionMiddleEast},
	{When: []string{"israel"}, Region: model.RegionMiddleEast},
	{When: []string{"gaza"}, Region: model.RegionMiddleEast},
	{When: []string{"ukraine"}, Region: model.RegionUkraine},
	{When: []string{"ukrainian"}, Region: model.RegionUkraine},
	{When: []string{"kyiv"}, Region: model.RegionUkraine},
	{When: []string{"russia"}, Region: model.RegionUkraine},
	{When: []string{"russian"}, Region: model.RegionUkraine},
	{When: []string{"europe"}, Region: model.RegionEurope},
	{When: []string{"european"}, Region: model.RegionEurope},
	{When: []string{"eu"}, Region: model.RegionEurope},
	{When: []string{"asia"}, Region: model.RegionAsia},
	{When: []string{"asian"}, Region: model.RegionAsia},
	{When: []string{"china"}, Region: model.RegionAsia},
	{When: []string{"japan"}, Region: model.RegionAsia},
	{When: []string{"india"}, Region: model.RegionAsia},
	{When: []string{"africa"}, Region: model.RegionAfrica},
	{When: []string{"african"}, Region: model.RegionAfrica},
	{When: []string{"south america"}, Region: model.RegionSouthAmerica},
	{When: []string{"latin america"}, Region: model.RegionSouthAmerica},
	{When: []string{"brazil"}, Region: model.RegionSouthAmerica},
	{When: []string{"north america"}, Region: model.RegionNorthAmerica},
	{When: []string{"united states"}, Region: model.RegionNorthAmerica},
	{When: []string{"usa"}, Region: model.RegionNorthAmerica},
	{When: []string{"america"}, Region: model.RegionNorthAmerica},
	{When: []string{"american"}, Region: model.RegionNorthAmerica},
	{When: []string{"canada"}, Region: model.RegionNorthAmerica},
	{When: []string{"oceania"}, Region: model.RegionOceania},
	{When: []string{"australia"}, Region: model.RegionOceania},
	{When: []string{"global"}, Region: model.RegionGlobal},
	{When: []string{"worldwide"}, Region: model.RegionGlobal},
}

var regionCentroids = map[string][2]float64{
	model.RegionUkraine:      {48.3794, 31.1656},
	model.RegionEurope:       {54.526, 15.2551},
	model.RegionAsia:         {34.0479, 100.6197},
	model.RegionMiddleEast:   {29.2985, 47.9248},
	model.RegionAfrica:       {-8.7832, 34.5085},
	model.RegionNorthAmerica: {54.526, -105.2551},
	model.RegionSouthAmerica: {-8.7832, -55.4915},
	model.RegionOceania:      {-22.7359, 140.0188},
	model.RegionGlobal:       {20, 0},
	model.RegionEuropeAfrica: {36, 14},
}

// RegionCentroid returns the representative point of a region label.
func RegionCentroid(region string) (lat, lng float64, ok bool) {
	c, ok := regionCentroids[region]
	return c[0], c[1], ok
}

// NewKeywordClassifier builds the default tables with extra rules taking
// precedence over the built-in ones.
func NewKeywordClassifier(extra ...KeywordRule) *KeywordClassifier {
	kc := &KeywordClassifier{}
	all := make([]KeywordRule, 0, len(extra)+len(defaultCategoryRules)+len(defaultRegionRules))
	all = append(all, extra...)
	all = append(all, defaultCategoryRules...)
	all = append(all, defaultRegionRules...)
	for _, r := range all {
		words := make([]string, 0, len(r.When))
		for _, w := range r.When {
			if s := strings.ToLower(strings.TrimSpace(w)); s != "" {
				words = append(words, s)
			}
		}
		if len(words) == 0 || (r.Category == "" && r.Region == "") {
			continue
		}
		kc.rules = append(kc.rules, kwRule{words: words, category: r.Category, region: r.Region})
	}
	return kc
}

func (k *KeywordClassifier) Category(text string) string {
	lc := strings.ToLower(text)
	for _, r := range k.rules {
		if r.category != "" && r.matches(lc) {
			return r.category
		}
	}
	return ""
}

func (k *KeywordClassifier) Region(text string) string {
	lc := strings.ToLower(text)
	for _, r := range k.rules {
		if r.region != "" && r.matches(lc) {
			return r.region
		}
	}
	return ""
}

func (r kwRule) matches(lc string) bool {
	for _, w := range r.words {
		if !containsWord(lc, w) {
			return false
		}
	}
	return true
}

// containsWord matches w in s on letter boundaries so "eu" does not hit "neutral".
func containsWord(s, w string) bool {
	for from := 0; from <= len(s)-len(w); {
		i := strings.Index(s[from:], w)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(w)
		if (i == 0 || !isLetter(s[i-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		from = i + 1
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}
