package model

// Controlled vocabulary defaults.
const (
	DefaultCategory = "Political Change"
	DefaultRegion   = "Global"
	DefaultCountry  = "World"
)

const (
	CategoryConflict   = "Wars & Conflicts"
	CategoryPolitical  = DefaultCategory
	CategoryEconomic   = "Economic Change"
	CategoryTechnology = "Technological Change"
	CategoryCrisis     = "Global Crises"
	CategoryAlliance   = "Alliances & Treaties"
	CategoryTerrorism  = "Terrorism"
)

const (
	RegionEurope       = "Europe"
	RegionAsia         = "Asia"
	RegionMiddleEast   = "Middle East"
	RegionAfrica       = "Africa"
	RegionNorthAmerica = "North America"
	RegionSouthAmerica = "South America"
	RegionOceania      = "Oceania"
	RegionUkraine      = "Ukraine"
	RegionGlobal       = DefaultRegion
	RegionEuropeAfrica = "Europe/Africa"
)

// DefaultCategories is used when neither config nor store supply a category set.
func DefaultCategories() []Category {
	return []Category{
		{Name: CategoryConflict, Color: "#d32f2f", Icon: "swords"},
		{Name: CategoryPolitical, Color: "#1976d2", Icon: "landmark"},
		{Name: CategoryEconomic, Color: "#388e3c", Icon: "chart"},
		{Name: CategoryTechnology, Color: "#7b1fa2", Icon: "cpu"},
		{Name: CategoryCrisis, Color: "#f57c00", Icon: "alert"},
		{Name: CategoryAlliance, Color: "#0097a7", Icon: "handshake"},
		{Name: CategoryTerrorism, Color: "#5d4037", Icon: "bomb"},
	}
}

// CategoryNames flattens categories into their names.
func CategoryNames(cats []Category) []string {
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, c.Name)
	}
	return out
}
