package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/billed/internal/bill"
	"github.com/zombor/billed/internal/scanning"
	"github.com/zombor/billed/internal/store"
	"github.com/zombor/billed/internal/views"
)

// maxFormSize bounds receipt uploads
const maxFormSize = int64(10 << 20) // 10MB

const lockedMessage = "Veuillez joindre un justificatif png, jpg ou jpeg avant l'envoi."

type billsPageData struct {
	Active string
	Bills  []bill.Display
	Error  string
	Modal  views.ModalView
}

type newBillPageData struct {
	Active string
	Types  []string
	Values views.FormValues
	View   views.FormView
	Error  string
}

// handleIndex sends the browser to the bills list
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, views.RouteBills.Path(), http.StatusSeeOther)
}

// handleBills renders the bills list, or the store failure
func (s *Server) handleBills(w http.ResponseWriter, r *http.Request) {
	bs := s.session(w, r)
	presenter := views.NewBillsPresenter(s.billStore(bs), nil, slog.Default())

	data := billsPageData{Active: "bills"}
	if proof := r.URL.Query().Get("proof"); proof != "" {
		data.Modal = presenter.HandleClickIconEye(proof)
	}

	status := http.StatusOK
	bills, err := presenter.Bills(r.Context())
	if err != nil {
		slog.Error("Error listing bills", "session", bs.id, "error", err)
		data.Error = failureMessage(err)
		status = http.StatusBadGateway
	}
	data.Bills = bills

	if err := render(w, status, billsPage, data); err != nil {
		slog.Error("Error rendering page", "error", err)
	}
}

// handleNewBillClick handles the new bill button of the bills page
func (s *Server) handleNewBillClick(w http.ResponseWriter, r *http.Request) {
	bs := s.session(w, r)
	s.resetForm(bs)

	var next views.Route
	presenter := views.NewBillsPresenter(s.billStore(bs), func(route views.Route) { next = route }, slog.Default())
	presenter.HandleClickNewBill()

	http.Redirect(w, r, next.Path(), http.StatusSeeOther)
}

// handleNewBillForm renders the new bill form with the current draft state
func (s *Server) handleNewBillForm(w http.ResponseWriter, r *http.Request) {
	bs := s.session(w, r)
	form := s.formController(bs)
	s.renderForm(w, http.StatusOK, views.FormValues{}, form.View(), "")
}

// handleFileChange validates and uploads the receipt picked in the form
func (s *Server) handleFileChange(w http.ResponseWriter, r *http.Request) {
	bs := s.session(w, r)
	form := s.formController(bs)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		s.respondForm(w, r, http.StatusBadRequest, formValues(r), form.View(), "Error parsing form")
		return
	}

	files, err := formFiles(r)
	if err != nil {
		slog.Error("Error reading file data", "error", err)
		s.respondForm(w, r, http.StatusInternalServerError, formValues(r), form.View(), "Error reading file. Please try again.")
		return
	}

	view, err := form.FileChanged(r.Context(), files, r.FormValue("file_path"))
	if errors.Is(err, views.ErrFileCount) {
		s.respondForm(w, r, http.StatusBadRequest, formValues(r), view, "Veuillez choisir un seul justificatif.")
		return
	}

	values := formValues(r)
	applySuggestion(&values, view.Suggestion)
	s.respondForm(w, r, http.StatusOK, values, view, "")
}

// handleSubmitBill submits the draft and follows the navigation it triggers
func (s *Server) handleSubmitBill(w http.ResponseWriter, r *http.Request) {
	bs := s.session(w, r)
	form := s.formController(bs)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		slog.Error("Error parsing form", "error", err)
		s.renderForm(w, http.StatusBadRequest, formValues(r), form.View(), "Error parsing form")
		return
	}
	values := formValues(r)

	// The page keeps the button off until a receipt is attached
	if form.View().SubmitDisabled {
		s.renderForm(w, http.StatusBadRequest, values, form.View(), lockedMessage)
		return
	}

	submission, err := form.Submit(r.Context(), values)
	var fieldErr *views.FieldError
	switch {
	case errors.Is(err, views.ErrSubmitLocked):
		s.renderForm(w, http.StatusBadRequest, values, form.View(), lockedMessage)
		return
	case errors.Is(err, views.ErrSubmitInFlight):
		s.renderForm(w, http.StatusConflict, values, form.View(), "Envoi déjà en cours.")
		return
	case errors.As(err, &fieldErr):
		s.renderForm(w, http.StatusBadRequest, values, form.View(), "Montant invalide.")
		return
	case err != nil:
		slog.Error("Error submitting bill", "session", bs.id, "error", err)
		s.renderForm(w, http.StatusInternalServerError, values, form.View(), "Internal server error")
		return
	}

	if submission.Err != nil {
		slog.Warn("Bill submitted with a store failure", "session", bs.id, "error", submission.Err)
	}

	next, ok := bs.takeNavigation()
	if !ok {
		next = views.RouteBills
	}
	if next == views.RouteBills {
		s.resetForm(bs)
	}
	http.Redirect(w, r, next.Path(), http.StatusSeeOther)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// respondForm answers a form action with JSON view state when asked for
// it, otherwise with the form page
func (s *Server) respondForm(w http.ResponseWriter, r *http.Request, status int, values views.FormValues, view views.FormView, message string) {
	if !strings.Contains(r.Header.Get("Accept"), "application/json") {
		s.renderForm(w, status, values, view, message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := struct {
		views.FormView
		Error string `json:"error,omitempty"`
	}{view, message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func (s *Server) renderForm(w http.ResponseWriter, status int, values views.FormValues, view views.FormView, message string) {
	data := newBillPageData{
		Active: "newbill",
		Types:  bill.ExpenseTypes,
		Values: values,
		View:   view,
		Error:  message,
	}
	if err := render(w, status, newBillPage, data); err != nil {
		slog.Error("Error rendering page", "error", err)
	}
}

// formValues reads the new bill fields of a parsed form
func formValues(r *http.Request) views.FormValues {
	return views.FormValues{
		Type:       r.FormValue("expense-type"),
		Name:       r.FormValue("expense-name"),
		Amount:     r.FormValue("amount"),
		Date:       r.FormValue("datepicker"),
		VAT:        r.FormValue("vat"),
		Pct:        r.FormValue("pct"),
		Commentary: r.FormValue("commentary"),
	}
}

// formFiles reads every file posted under the file field
func formFiles(r *http.Request) ([]views.File, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File["file"]
	files := make([]views.File, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, views.File{
			Name:        header.Filename,
			ContentType: strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type"))),
			Data:        data,
		})
	}
	return files, nil
}

// applySuggestion fills the fields the employee left empty
func applySuggestion(values *views.FormValues, s *scanning.Suggestion) {
	if s == nil {
		return
	}
	if values.Name == "" {
		values.Name = s.Name
	}
	if values.Type == "" {
		values.Type = s.Type
	}
	if values.Date == "" {
		values.Date = s.Date
	}
	if values.Amount == "" && s.Amount > 0 {
		values.Amount = strconv.Itoa(s.Amount)
	}
	if values.VAT == "" {
		values.VAT = s.VAT
	}
}

// failureMessage is what the error page shows for err
func failureMessage(err error) string {
	var remote *store.RemoteError
	if errors.As(err, &remote) {
		return remote.Error()
	}
	return err.Error()
}
