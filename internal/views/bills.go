package views

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/billed/internal/bill"
	"github.com/zombor/billed/internal/store"
)

// ModalView is the state of the attachment preview dialog
type ModalView struct {
	Open     bool
	ImageURL string
}

// BillsPresenter prepares the bills page
type BillsPresenter struct {
	store    store.BillStore
	navigate Navigator
	logger   *slog.Logger
}

// NewBillsPresenter creates a presenter. st may be nil, in which case the
// list is always empty.
func NewBillsPresenter(st store.BillStore, navigate Navigator, logger *slog.Logger) *BillsPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillsPresenter{
		store:    st,
		navigate: navigate,
		logger:   logger,
	}
}

// Bills fetches the bills, latest first, decorated for display. Store
// failures are returned so the page can show them.
func (p *BillsPresenter) Bills(ctx context.Context) ([]bill.Display, error) {
	if p.store == nil {
		return []bill.Display{}, nil
	}

	bills, err := p.store.List(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info(fmt.Sprintf("length %d", len(bills)))

	bill.SortLatestFirst(bills)

	decorated := make([]bill.Display, 0, len(bills))
	for _, b := range bills {
		decorated = append(decorated, p.decorate(b))
	}
	return decorated, nil
}

func (p *BillsPresenter) decorate(b bill.Bill) bill.Display {
	d := bill.Display{Bill: b, DisplayDate: b.Date, DisplayStatus: string(b.Status)}

	if date, err := bill.FormatDate(b.Date); err != nil {
		p.logger.Warn("Keeping raw bill date", "id", b.ID, "date", b.Date, "error", err)
	} else {
		d.DisplayDate = date
	}

	if status, err := bill.FormatStatus(b.Status); err != nil {
		p.logger.Warn("Keeping raw bill status", "id", b.ID, "status", b.Status, "error", err)
	} else {
		d.DisplayStatus = status
	}
	return d
}

// HandleClickIconEye opens the attachment dialog on billURL
func (p *BillsPresenter) HandleClickIconEye(billURL string) ModalView {
	return ModalView{Open: billURL != "", ImageURL: billURL}
}

// HandleClickNewBill goes to the new bill form
func (p *BillsPresenter) HandleClickNewBill() {
	p.navigate(RouteNewBill)
}
