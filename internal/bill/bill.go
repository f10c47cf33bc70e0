package bill

// Status is the review state of a bill. Only the store moves a bill out of
// StatusPending.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRefused  Status = "refused"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusRefused
}

// ExpenseTypes lists the categories an employee can pick for a bill, in form order
var ExpenseTypes = []string{
	"Transports",
	"Restaurants et bars",
	"Hôtel et logement",
	"Services en ligne",
	"IT et électronique",
	"Equipement et matériel",
	"Fournitures de bureau",
}

// DefaultPct is the percentage applied when the form leaves pct empty
const DefaultPct = 20

// Bill represents one expense report
type Bill struct {
	ID         string  `json:"id,omitempty"`
	Email      string  `json:"email"`
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	Amount     int     `json:"amount"`
	Date       string  `json:"date"` // YYYY-MM-DD
	VAT        string  `json:"vat"`
	Pct        int     `json:"pct"`
	Commentary string  `json:"commentary"`
	FileURL    *string `json:"fileUrl"`
	FileName   *string `json:"fileName"`
	Status     Status  `json:"status"`
}

// HasAttachment reports whether the bill references an uploaded receipt
func (b Bill) HasAttachment() bool {
	return b.FileURL != nil && b.FileName != nil
}

// AttachmentURL returns the receipt URL or an empty string
func (b Bill) AttachmentURL() string {
	if b.FileURL == nil {
		return ""
	}
	return *b.FileURL
}

// Display is a bill decorated with the values shown in the bills table
type Display struct {
	Bill
	DisplayDate   string `json:"displayDate"`
	DisplayStatus string `json:"displayStatus"`
}
