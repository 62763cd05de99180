// Package catalog holds the static reference data handed to the inference
// layer: spending categories and supported currency codes.
package catalog

// Category is a spending category the classifier may assign.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Type        string `json:"type"`
}

// UnknownCategoryID is assigned when nothing better could be inferred.
const UnknownCategoryID = "unknown"

var categories = []Category{
	{ID: "housing", Name: "Housing", Description: "Rent, mortgage, property tax, etc.", Color: "#fdaaaa", Type: "outcome"},
	{ID: "household_items", Name: "Household items", Description: "Furniture, appliances, etc.", Color: "#fdaad2", Type: "outcome"},
	{ID: "childcare", Name: "Childcare", Description: "Daycare, babysitting, etc.", Color: "#f3aafd", Type: "outcome"},
	{ID: "transportation", Name: "Transportation", Description: "Gas, public transport, etc.", Color: "#cbaafd", Type: "outcome"},
	{ID: "utilities", Name: "Utilities", Description: "Electricity, water, internet, etc.", Color: "#b0aafd", Type: "outcome"},
	{ID: "groceries", Name: "Groceries", Description: "Food, drinks, etc.", Color: "#aad5fd", Type: "outcome"},
	{ID: "dining_out", Name: "Dining out", Description: "Restaurants, cafes, etc.", Color: "#94bffc", Type: "outcome"},
	{ID: "pets", Name: "Pets", Description: "Food, grooming, vet, etc.", Color: "#7ccefd", Type: "outcome"},
	{ID: "entertainment", Name: "Entertainment", Description: "Movies, games, events, etc.", Color: "#a4eafd", Type: "outcome"},
	{ID: "healthcare", Name: "Healthcare", Description: "Doctor, dentist, medicine, etc.", Color: "#66faf8", Type: "outcome"},
	{ID: "insurance", Name: "Insurance", Description: "Health, car, home, etc.", Color: "#aafdef", Type: "outcome"},
	{ID: "personal_care", Name: "Personal care", Description: "Gym, beauty, clothing, etc.", Color: "#aafddd", Type: "outcome"},
	{ID: "debts", Name: "Debts", Description: "Credit card, loan, etc.", Color: "#7bfa8c", Type: "outcome"},
	{ID: "givings", Name: "Givings", Description: "Charity, gifts, etc.", Color: "#b7f85e", Type: "outcome"},
	{ID: "shopping", Name: "Shopping", Description: "Clothes, electronics, etc.", Color: "#e2f85e", Type: "outcome"},
	{ID: "education", Name: "Education", Description: "Tuition, books, etc.", Color: "#fdf6aa", Type: "outcome"},
	{ID: "travel", Name: "Travel", Description: "Flights, hotels, etc.", Color: "#fddfaa", Type: "outcome"},
	{ID: "miscellaneous", Name: "Miscellaneous", Description: "Other, etc.", Color: "#fdc3aa", Type: "outcome"},
	{ID: UnknownCategoryID, Name: "Unknown", Description: "Unknown items", Color: "#a1a1aa", Type: "outcome"},
}

var currencies = []string{"USD", "EUR", "GBP", "JPY", "KRW", "VND", "SGD", "AUD", "CAD", "CNY"}

// Categories returns a copy of the category list.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// CategoryIDs returns the ids in catalog order.
func CategoryIDs(list []Category) []string {
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids
}

// Currencies returns a copy of the supported currency codes.
func Currencies() []string {
	out := make([]string, len(currencies))
	copy(out, currencies)
	return out
}

// IsCurrency reports whether code is a supported currency.
func IsCurrency(code string) bool {
	for _, c := range currencies {
		if c == code {
			return true
		}
	}
	return false
}

// Lookup finds a category by id.
func Lookup(id string) (Category, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}
