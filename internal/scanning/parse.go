package scanning

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zombor/billed/internal/bill"
)

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
var receiptScanPrompt = `You are reading a receipt attached to an employee expense report. Carefully read all text in the image and extract:

1. **Name**: the merchant or a short label for the expense, e.g. "Vol Paris Londres" or "Restaurant Le Central".
2. **Type**: the expense category, exactly one of: ` + strings.Join(bill.ExpenseTypes, ", ") + `.
3. **Date**: the transaction date in ISO 8601 format (YYYY-MM-DD).
4. **Amount**: the total amount paid, including taxes, as a number (e.g. 348.50).
5. **VAT**: the VAT amount as a number, if printed.

Return ONLY valid JSON in this exact format:
{
  "name": "Merchant",
  "type": "Transports",
  "date": "YYYY-MM-DD",
  "amount": 0.00,
  "vat": 0.00
}

Important:
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

type rawSuggestion struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Date   string   `json:"date"`
	Amount *float64 `json:"amount"`
	VAT    *float64 `json:"vat"`
}

// parseSuggestionJSON extracts a Suggestion from a model answer
func parseSuggestionJSON(text string) (*Suggestion, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawSuggestion
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	s := &Suggestion{
		Name: strings.TrimSpace(raw.Name),
		Date: normalizeDate(raw.Date),
	}
	for _, t := range bill.ExpenseTypes {
		if strings.EqualFold(t, strings.TrimSpace(raw.Type)) {
			s.Type = t
			break
		}
	}
	// Bills carry whole amounts
	if raw.Amount != nil && *raw.Amount > 0 {
		s.Amount = int(math.Round(*raw.Amount))
	}
	if raw.VAT != nil && *raw.VAT > 0 {
		s.VAT = fmt.Sprintf("%d", int(math.Round(*raw.VAT)))
	}
	return s, nil
}

// normalizeDate returns d as YYYY-MM-DD, or "" when it cannot be read
func normalizeDate(d string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		return ""
	}
	formats := []string{
		bill.DateLayout,
		"2006/01/02",
		"02/01/2006",
		"02-01-2006",
		"02.01.2006",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, d); err == nil {
			return t.Format(bill.DateLayout)
		}
	}
	return ""
}
