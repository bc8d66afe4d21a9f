package oracle

import (
	"fmt"
	"strings"

	"github.com/kalambet/fcsentinel/internal/evidence"
	"github.com/kalambet/fcsentinel/internal/storage"
)

const preamble = `You are an expert in supply chain risk management for fulfillment centers (FCs). Your task is to:
1. Assess the risk of disruption for %s located in %s based on the provided data.
2. Determine if products in the FC's inventory belong to emergency categories critical for public health and safety.
3. Provide a risk score (0-100), status, reasoning, and emergency category classifications.

### Data for %s (%s)
`

const instructions = `
### Instructions
1. Risk Assessment:
	- Analyze the data to predict the risk of disruption (0-100).
	- Explain your reasoning for the risk score.

2. Emergency Category Classification:
	- For each product, determine if it is an emergency item based on category and description.
	- Output SKUs with emergency status (True/False) and reasoning.

3. Output Format (plain text, no markdown, exactly these labels):
Risk Score: [0-100]
Status: [High Risk | Medium Risk | Low Risk]
Reasoning: [Detailed explanation]
Emergency Classifications:
- SKU: [SKU], Emergency: [True/False], Reason: [Explanation]
`

// BuildPrompt renders the oracle prompt for fc. The output depends only on
// its arguments. Sections always appear in the same order and an empty one
// is written as "(no data)".
func BuildPrompt(fc storage.FulfillmentCenter, b evidence.Bundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, preamble, fc.Name, fc.City, fc.Name, fc.City)

	for _, cat := range evidence.Categories {
		fmt.Fprintf(&sb, "#### %s\n", evidence.SectionTitle(cat))
		b.RenderSection(&sb, cat)
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "#### %s\n", evidence.SectionTitle(evidence.InventorySection))
	b.RenderInventory(&sb)

	sb.WriteString(instructions)
	return sb.String()
}
