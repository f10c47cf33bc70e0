package views

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zombor/billed/internal/bill"
	"github.com/zombor/billed/internal/scanning"
	"github.com/zombor/billed/internal/session"
	"github.com/zombor/billed/internal/store"
)

var (
	// ErrSubmitInFlight is returned when a submit arrives while the previous
	// one on the same form has not finished
	ErrSubmitInFlight = errors.New("bill submission already in progress")

	// ErrFileCount is returned when a file change does not carry exactly one file
	ErrFileCount = errors.New("exactly one file is expected")

	// ErrSubmitLocked is returned when the picked receipt was rejected or is
	// still uploading
	ErrSubmitLocked = errors.New("bill form is locked")
)

// errorColor is the CSS color of the file error message
const errorColor = "red"

// File is a receipt picked in the form
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// FormValues are the raw field values of the new bill form
type FormValues struct {
	Type       string
	Name       string
	Amount     string
	Date       string
	VAT        string
	Pct        string
	Commentary string
}

// FieldError reports a form value that cannot be used
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// FormView is what the new bill page shows besides the field values
type FormView struct {
	SubmitDisabled bool                 `json:"submitDisabled"`
	FileError      string               `json:"fileError"`
	FileErrorColor string               `json:"fileErrorColor,omitempty"`
	FileName       string               `json:"fileName,omitempty"`
	Suggestion     *scanning.Suggestion `json:"suggestion,omitempty"`
}

// Submission is the outcome of a submit. Err is the store failure, if any;
// navigation happened either way.
type Submission struct {
	Draft bill.Bill
	Saved *bill.Bill
	Err   error
}

// FormDeps are the collaborators of a BillFormController. Store and Scanner
// are optional.
type FormDeps struct {
	Store    store.BillStore
	Identity session.Identity
	Navigate Navigator
	Scanner  scanning.Scanner
	Logger   *slog.Logger
}

// BillFormController owns the draft of one new bill
type BillFormController struct {
	store    store.BillStore
	identity session.Identity
	navigate Navigator
	scanner  scanning.Scanner
	logger   *slog.Logger

	mu       sync.Mutex
	pick     int
	fileURL  *string
	fileName *string
	billID   string
	view     FormView

	submitting atomic.Bool
}

// NewBillFormController creates a controller with the submit button locked
// until a valid receipt is attached
func NewBillFormController(deps FormDeps) *BillFormController {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BillFormController{
		store:    deps.Store,
		identity: deps.Identity,
		navigate: deps.Navigate,
		scanner:  deps.Scanner,
		logger:   logger,
		view:     FormView{SubmitDisabled: true},
	}
}

// View returns the current form state
func (c *BillFormController) View() FormView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// BillID returns the id reserved by the last successful upload
func (c *BillFormController) BillID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.billID
}

// FileChanged validates the picked receipt and uploads it when its
// extension is accepted. rawPath is the file input value, which browsers
// prefix with a fake directory.
func (c *BillFormController) FileChanged(ctx context.Context, files []File, rawPath string) (FormView, error) {
	if len(files) != 1 {
		return c.View(), ErrFileCount
	}
	file := files[0]

	fileName := bill.BaseName(rawPath)
	if rawPath == "" {
		fileName = bill.BaseName(file.Name)
	}

	c.mu.Lock()
	c.pick++
	pick := c.pick

	if !bill.AllowedAttachment(fileName) {
		c.view = FormView{
			SubmitDisabled: true,
			FileError:      bill.ErrBadExtension,
			FileErrorColor: errorColor,
			FileName:       fileName,
		}
		view := c.view
		c.mu.Unlock()
		return view, nil
	}

	// Locked until the upload settles
	c.view = FormView{SubmitDisabled: true, FileName: fileName}
	c.fileURL, c.fileName, c.billID = nil, nil, ""
	c.mu.Unlock()

	contentType := file.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = bill.ContentType(fileName)
	}

	var uploaded *store.CreateResult
	if c.store != nil {
		uploaded = c.upload(ctx, fileName, contentType, file.Data)
	}
	var suggestion *scanning.Suggestion
	if c.scanner != nil {
		suggestion = c.scan(ctx, fileName, contentType, file.Data)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pick != c.pick {
		// a later pick owns the form
		return c.view, nil
	}
	if uploaded != nil {
		url, name := uploaded.FileURL, fileName
		c.fileURL = &url
		c.fileName = &name
		c.billID = uploaded.Key
	}
	c.view = FormView{FileName: fileName, Suggestion: suggestion}
	return c.view, nil
}

func (c *BillFormController) upload(ctx context.Context, fileName, contentType string, data []byte) *store.CreateResult {
	user, err := c.identity.CurrentUser()
	if err != nil {
		c.logger.Error("Error reading session user", "error", err)
		return nil
	}

	result, err := c.store.Create(ctx, store.CreateRequest{
		Email:       user.Email,
		FileName:    fileName,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		c.logger.Error("Error uploading receipt", "filename", fileName, "error", err)
		return nil
	}
	return result
}

func (c *BillFormController) scan(ctx context.Context, fileName, contentType string, data []byte) *scanning.Suggestion {
	suggestion, err := c.scanner.ScanReceipt(ctx, data, contentType)
	if err != nil {
		c.logger.Warn("Failed to scan receipt", "filename", fileName, "content_type", contentType, "file_size", len(data), "error", err)
		return nil
	}
	if suggestion.Empty() {
		return nil
	}
	return suggestion
}

// Submit assembles the draft from the form, sends it to the store and goes
// back to the bills list. A store failure is logged and reported in the
// Submission; it does not prevent navigation. A form whose receipt was
// rejected, or is still uploading, fails with ErrSubmitLocked.
func (c *BillFormController) Submit(ctx context.Context, form FormValues) (*Submission, error) {
	if !c.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer c.submitting.Store(false)

	if c.locked() {
		return nil, ErrSubmitLocked
	}

	draft, err := c.draft(form)
	if err != nil {
		return nil, err
	}

	saved, err := c.UpdateBill(ctx, draft)
	c.navigate(RouteBills)

	return &Submission{Draft: draft, Saved: saved, Err: err}, nil
}

// locked reports whether a picked receipt blocks submission. A form where
// nothing was picked yet is not locked here; the page keeps its button off.
func (c *BillFormController) locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pick > 0 && c.view.SubmitDisabled
}

func (c *BillFormController) draft(form FormValues) (bill.Bill, error) {
	user, err := c.identity.CurrentUser()
	if err != nil {
		return bill.Bill{}, fmt.Errorf("reading session user: %w", err)
	}

	amount, err := strconv.Atoi(strings.TrimSpace(form.Amount))
	if err != nil {
		return bill.Bill{}, &FieldError{Field: "amount", Value: form.Amount, Err: err}
	}

	pct, err := strconv.Atoi(strings.TrimSpace(form.Pct))
	if err != nil || pct == 0 {
		pct = bill.DefaultPct
	}

	c.mu.Lock()
	fileURL, fileName := c.fileURL, c.fileName
	c.mu.Unlock()

	return bill.Bill{
		Email:      user.Email,
		Type:       form.Type,
		Name:       form.Name,
		Amount:     amount,
		Date:       form.Date,
		VAT:        form.VAT,
		Pct:        pct,
		Commentary: form.Commentary,
		FileURL:    fileURL,
		FileName:   fileName,
		Status:     bill.StatusPending,
	}, nil
}

// UpdateBill stores b under the id reserved by the upload. Without a store
// it does nothing.
func (c *BillFormController) UpdateBill(ctx context.Context, b bill.Bill) (*bill.Bill, error) {
	if c.store == nil {
		return nil, nil
	}

	saved, err := c.store.Update(ctx, c.BillID(), b)
	if err != nil {
		c.logger.Error("Error updating bill", "error", err)
		return nil, err
	}
	return saved, nil
}
