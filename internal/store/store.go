package store

import (
	"context"
	"fmt"

	"github.com/zombor/billed/internal/bill"
)

// BillStore is the remote API holding bills
type BillStore interface {
	// List returns every bill visible to the caller
	List(ctx context.Context) ([]bill.Bill, error)

	// Create uploads a receipt and reserves a bill for it
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// Update replaces the bill identified by id
	Update(ctx context.Context, id string, b bill.Bill) (*bill.Bill, error)
}

// CreateRequest carries the receipt upload
type CreateRequest struct {
	Email       string
	FileName    string
	ContentType string
	Data        []byte
}

// CreateResult is what the API returns for an upload
type CreateResult struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	Key      string `json:"key"`
}

// RemoteError is a non-2xx answer from the API
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("Erreur %d", e.StatusCode)
}
