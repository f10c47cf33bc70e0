package scanning

import "context"

// Suggestion holds the bill fields read from a receipt image. Empty fields
// were not found on the receipt.
type Suggestion struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Date   string `json:"date"` // YYYY-MM-DD
	Amount int    `json:"amount"`
	VAT    string `json:"vat"`
}

// Empty reports whether nothing usable was read
func (s *Suggestion) Empty() bool {
	return s == nil || (s.Name == "" && s.Type == "" && s.Date == "" && s.Amount == 0 && s.VAT == "")
}

// Scanner reads a receipt image and suggests bill fields
type Scanner interface {
	// ScanReceipt analyzes a png or jpeg receipt
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*Suggestion, error)
	// Close closes the scanner and releases resources
	Close() error
}
