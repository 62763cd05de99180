package inference

// Tool describes one function the model is asked to call. Parameters is a
// JSON schema object and is sent to the provider as-is.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

const (
	CategoryToolName     = "infer_transactions_category"
	InvoiceToolName      = "infer_invoice_and_purchased_items"
	TransactionsToolName = "infer_transactions"
)

// TransactionTypes lists the values accepted for a transaction type.
var TransactionTypes = []string{
	string(TypeIncome),
	string(TypeOutcome),
	string(TypeDebt),
	string(TypeOther),
}

// CategoryTool constrains the model to one of categoryIDs.
func CategoryTool(categoryIDs []string) Tool {
	return Tool{
		Name:        CategoryToolName,
		Description: "Get the category of the transaction in predefined categories",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"category", "type"},
			"properties": map[string]any{
				"category": map[string]any{
					"type":        "string",
					"enum":        nonNil(categoryIDs),
					"description": "The category of the transaction",
				},
				"type": map[string]any{
					"type":        "string",
					"enum":        TransactionTypes,
					"description": "The type of the transaction",
				},
			},
		},
	}
}

// InvoiceTool asks for the line items, taxes, discounts and totals of a
// receipt. At least the purchased items and the total are required.
func InvoiceTool(currencies []string) Tool {
	return Tool{
		Name:        InvoiceToolName,
		Description: "Infer invoice details from a given prompt",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"purchased_items", "total"},
			"properties": map[string]any{
				"timestamp": map[string]any{
					"type":        "string",
					"description": "The issued date of the invoice in the format ISO 8601 e.g. 2022-01-01T00:00:00Z",
				},
				"purchased_items": map[string]any{
					"type":        "array",
					"description": "The purchased items in the invoice including name, quantity and amount",
					"items": map[string]any{
						"type":     "object",
						"required": []string{"title", "amount"},
						"properties": map[string]any{
							"title": map[string]any{
								"type":        "string",
								"description": "The name of the purchased item in the original language",
							},
							"quantity": map[string]any{
								"type":        "number",
								"description": "The quantity of the purchased item. It usually less than 20",
							},
							"amount": map[string]any{
								"type":        "number",
								"description": "The total of the item",
							},
							"unit": map[string]any{
								"type":        "string",
								"description": "The unit of the quantity e.g. item, kg, liter, etc.",
							},
						},
					},
				},
				"discounts": map[string]any{
					"type":        "array",
					"description": "The discounts in the invoice. Ignore if there is no discount",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"discount_for_item": map[string]any{
								"type":        "string",
								"description": "The item's name that the discount is applied to. It placed next above the current line",
							},
							"discount_rate": map[string]any{
								"type":        "number",
								"description": "The rate of the discount e.g. 8, 10",
							},
							"discount_amount": map[string]any{
								"type":        "number",
								"description": "The amount of the discount",
							},
						},
					},
				},
				"taxes": map[string]any{
					"type":        "array",
					"description": "The taxes of the invoice. Ignore if there is no tax",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"tax_rate": map[string]any{
								"type":        "number",
								"description": "The rate of the tax e.g. 8, 10",
							},
							"tax_amount": map[string]any{
								"type":        "number",
								"description": "The amount of the tax",
							},
						},
					},
				},
				"subtotal": map[string]any{
					"type":        "number",
					"description": "The subtotal of the invoice not including taxes",
				},
				"total": map[string]any{
					"type":        "number",
					"description": "The total of the invoice including taxes",
				},
				"currency": map[string]any{
					"type":        "string",
					"enum":        nonNil(currencies),
					"description": "The currency based on the main language in the invoice",
				},
				"card_number": map[string]any{
					"type":        "number",
					"description": "The last 4 digits of the card number used to pay the invoice",
				},
			},
		},
	}
}

// TransactionsTool asks for one transaction per call result. The amount is a
// string so the model can keep magnitude suffixes such as "40k".
func TransactionsTool(currencies []string) Tool {
	return Tool{
		Name:        TransactionsToolName,
		Description: "Infer transactions from a given prompt",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"title", "currency", "amount"},
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "The title of the transaction in the original language",
				},
				"currency": map[string]any{
					"type":        "string",
					"description": "Currency to infer transactions for",
					"enum":        nonNil(currencies),
				},
				"amount": map[string]any{
					"type":        "string",
					"description": "The format can be 0.0a where a is the unit e.g. 1.5k, 2.5m, 3.5tr, 40k, etc.",
				},
				"quantity": map[string]any{
					"type":        "number",
					"description": "The quantity of the product e.g. 2, 3, etc.",
				},
				"unit": map[string]any{
					"type":        "string",
					"description": "The unit of the product e.g. kg, m, etc.",
				},
				"date": map[string]any{
					"type":        "string",
					"examples":    []string{"1 hour ago", "yesterday", "2 days ago", "last week", "3 weeks ago", "last month", "2 months ago", "30/04"},
					"description": "The timestamp of the transaction in format DD/MM or 1 hour ago, yesterday",
				},
			},
		},
	}
}

// nonNil keeps enums encoded as [] rather than null.
func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
