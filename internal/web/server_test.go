package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/billed/internal/bill"
	"github.com/zombor/billed/internal/scanning"
	"github.com/zombor/billed/internal/session"
	"github.com/zombor/billed/internal/store"
	"github.com/zombor/billed/internal/views"
)

var _ = Describe("Server", func() {
	var (
		api     *ghttp.Server
		app     *ghttp.Server
		server  *Server
		scanner scanning.Scanner
		config  Config
		browser *http.Client
	)

	BeforeEach(func() {
		api = ghttp.NewServer()
		app = ghttp.NewServer()
		scanner = nil
		config = Config{DefaultEmail: "employee@test.tld"}
		browser = newBrowser()
	})

	JustBeforeEach(func() {
		client, err := store.NewClient(api.URL(), time.Second)
		Expect(err).NotTo(HaveOccurred())
		stores := func(session.Storage) store.BillStore { return client }
		server = NewServerWithMux(session.NewMemoryStore(), stores, scanner, config, http.NewServeMux())
		serve(app, server)
	})

	AfterEach(func() {
		app.Close()
		api.Close()
	})

	Describe("handleIndex", func() {
		It("should redirect to the bills list", func() {
			p := get(browser, app.URL()+"/")
			Expect(p.status).To(Equal(http.StatusSeeOther))
			Expect(p.location).To(Equal("/bills"))
		})

		When("request method is not GET", func() {
			It("should return status Method Not Allowed", func() {
				p := postForm(browser, app.URL()+"/", url.Values{})
				Expect(p.status).To(Equal(http.StatusMethodNotAllowed))
			})
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			config.BasicAuth = BasicAuth{Username: "employee@test.tld", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			p := get(browser, app.URL()+"/bills/new")
			Expect(p.status).To(Equal(http.StatusUnauthorized))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, app.URL()+"/bills/new", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("employee@test.tld", "wrong")
			Expect(fetch(browser, req).status).To(Equal(http.StatusUnauthorized))
		})

		It("should accept the configured credentials", func() {
			req, err := http.NewRequest(http.MethodGet, app.URL()+"/bills/new", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("employee@test.tld:secret")))
			Expect(fetch(browser, req).status).To(Equal(http.StatusOK))
		})

		It("should serve the stylesheet without credentials", func() {
			p := get(browser, app.URL()+"/static/app.css")
			Expect(p.status).To(Equal(http.StatusOK))
			Expect(p.body).NotTo(BeEmpty())
		})
	})

	Describe("handleBills", func() {
		When("the API returns bills", func() {
			BeforeEach(func() {
				proof, name := "https://test.storage.tld/proof.jpg", "proof.jpg"
				api.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/bills"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, []bill.Bill{
						{ID: "a", Name: "encore", Date: "2003-03-03", Status: bill.StatusAccepted, Amount: 300},
						{ID: "b", Name: "test1", Date: "2004-04-04", Status: bill.StatusPending, Amount: 400, FileURL: &proof, FileName: &name},
						{ID: "c", Name: "test3", Date: "2002-02-02", Status: bill.StatusRefused, Amount: 200},
					}),
				))
			})

			It("should list them latest first with formatted dates", func() {
				p := get(browser, app.URL()+"/bills")
				Expect(p.status).To(Equal(http.StatusOK))
				Expect(p.body).To(MatchRegexp(`(?s)4 Avr\. 04.*3 Mar\. 03.*2 Fév\. 02`))
			})

			It("should translate statuses", func() {
				p := get(browser, app.URL()+"/bills")
				Expect(p.body).To(ContainSubstring("En attente"))
				Expect(p.body).To(ContainSubstring("Accepté"))
				Expect(p.body).To(ContainSubstring("Refused"))
			})

			It("should highlight the bills icon", func() {
				p := get(browser, app.URL()+"/bills")
				Expect(p.body).To(MatchRegexp(`data-testid="icon-window" class="active-icon"`))
				Expect(p.body).To(MatchRegexp(`data-testid="icon-mail" class=""`))
			})

			It("should render one eye icon per attachment", func() {
				p := get(browser, app.URL()+"/bills")
				Expect(p.body).To(ContainSubstring(`data-testid="icon-eye"`))
				Expect(p.body).To(ContainSubstring(`data-bill-url="https://test.storage.tld/proof.jpg"`))
			})

			It("should keep the modal closed", func() {
				p := get(browser, app.URL()+"/bills")
				Expect(p.body).NotTo(ContainSubstring(`id="modaleFile"`))
			})

			When("a proof is requested", func() {
				It("should open the modal with the image", func() {
					p := get(browser, app.URL()+"/bills?proof="+url.QueryEscape("https://test.storage.tld/proof.jpg"))
					Expect(p.body).To(ContainSubstring(`id="modaleFile"`))
					Expect(p.body).To(ContainSubstring(`src="https://test.storage.tld/proof.jpg"`))
				})
			})
		})

		When("the API returns bills with an unparsable date", func() {
			BeforeEach(func() {
				api.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, []bill.Bill{
					{ID: "a", Date: "not a date", Status: bill.StatusPending},
				}))
			})

			It("should show the raw date", func() {
				p := get(browser, app.URL()+"/bills")
				Expect(p.status).To(Equal(http.StatusOK))
				Expect(p.body).To(ContainSubstring("not a date"))
			})
		})

		DescribeTable("when the API fails",
			func(status int, message string) {
				api.AppendHandlers(ghttp.RespondWith(status, "boom"))
				p := get(browser, app.URL()+"/bills")
				Expect(p.status).To(Equal(http.StatusBadGateway))
				Expect(p.body).To(ContainSubstring(`data-testid="error-message"`))
				Expect(p.body).To(ContainSubstring(message))
			},
			Entry("with a 404", http.StatusNotFound, "Erreur 404"),
			Entry("with a 500", http.StatusInternalServerError, "Erreur 500"),
		)
	})

	Describe("handleNewBillClick", func() {
		It("should redirect to the new bill form", func() {
			p := postForm(browser, app.URL()+"/bills/new-bill", url.Values{})
			Expect(p.status).To(Equal(http.StatusSeeOther))
			Expect(p.location).To(Equal("/bills/new"))
		})
	})

	Describe("handleNewBillForm", func() {
		It("should render the form with submit locked", func() {
			p := get(browser, app.URL()+"/bills/new")
			Expect(p.status).To(Equal(http.StatusOK))
			Expect(p.body).To(ContainSubstring(`data-testid="form-new-bill"`))
			Expect(p.body).To(ContainSubstring(`disabled>Envoyer`))
			Expect(p.body).To(MatchRegexp(`data-testid="icon-mail" class="active-icon"`))
		})

		It("should offer every expense type", func() {
			p := get(browser, app.URL()+"/bills/new")
			for _, t := range bill.ExpenseTypes {
				Expect(p.body).To(ContainSubstring(t))
			}
		})
	})

	Describe("handleFileChange", func() {
		When("the file has a bad extension", func() {
			It("should show the error in red and keep submit locked", func() {
				p := fetch(browser, uploadRequest(app.URL()+"/bills/new/file", "test.txt", []byte("text")))
				Expect(p.status).To(Equal(http.StatusOK))
				Expect(p.body).To(ContainSubstring("Mauvaise extension"))
				Expect(p.body).To(ContainSubstring(`style="color: red"`))
				Expect(p.body).To(ContainSubstring(`disabled>Envoyer`))
			})

			It("should not upload anything", func() {
				fetch(browser, uploadRequest(app.URL()+"/bills/new/file", "test.txt", []byte("text")))
				Expect(api.ReceivedRequests()).To(BeEmpty())
			})

			It("should answer JSON when asked for it", func() {
				req := uploadRequest(app.URL()+"/bills/new/file", "test.txt", []byte("text"))
				req.Header.Set("Accept", "application/json")
				p := fetch(browser, req)

				var view views.FormView
				Expect(json.Unmarshal([]byte(p.body), &view)).To(Succeed())
				Expect(view.FileError).To(Equal(bill.ErrBadExtension))
				Expect(view.FileErrorColor).To(Equal("red"))
				Expect(view.SubmitDisabled).To(BeTrue())
			})
		})

		When("the file is a png", func() {
			BeforeEach(func() {
				api.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/bills"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, store.CreateResult{
						FileURL: "https://test.storage.tld/test.png",
						Key:     "1234",
					}),
				))
			})

			It("should upload it and unlock submit", func() {
				p := fetch(browser, uploadRequest(app.URL()+"/bills/new/file", "test.png", []byte("png")))
				Expect(p.status).To(Equal(http.StatusOK))
				Expect(api.ReceivedRequests()).To(HaveLen(1))
				Expect(p.body).To(ContainSubstring(`class="btn btn-primary">Envoyer`))
				Expect(p.body).To(ContainSubstring(`data-testid="file-name">test.png`))
				Expect(p.body).NotTo(ContainSubstring("Mauvaise extension"))
			})

			When("a scanner is configured", func() {
				BeforeEach(func() {
					scanner = &fakeScanner{suggestion: &scanning.Suggestion{Name: "Taxi", Amount: 42}}
				})

				It("should prefill the empty fields", func() {
					p := fetch(browser, uploadRequest(app.URL()+"/bills/new/file", "test.png", []byte("png")))
					Expect(p.body).To(ContainSubstring(`value="Taxi"`))
					Expect(p.body).To(ContainSubstring(`value="42"`))
					Expect(p.body).To(ContainSubstring(`data-testid="suggestion"`))
				})
			})
		})

		When("no file is sent", func() {
			It("should return status Bad Request", func() {
				req := uploadRequest(app.URL()+"/bills/new/file", "test.png", nil)
				req.Body = http.NoBody
				req.ContentLength = 0
				Expect(fetch(browser, req).status).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleSubmitBill", func() {
		form := url.Values{
			"expense-type": {"Transports"},
			"expense-name": {"Vol Paris Londres"},
			"datepicker":   {"2022-02-02"},
			"amount":       {"348"},
			"vat":          {"70"},
			"pct":          {""},
			"commentary":   {"séminaire"},
		}

		attach := func() {
			api.RouteToHandler(http.MethodPost, "/bills", ghttp.RespondWithJSONEncoded(http.StatusOK, store.CreateResult{
				FileURL: "https://test.storage.tld/test.png",
				Key:     "1234",
			}))
			fetch(browser, uploadRequest(app.URL()+"/bills/new/file", "test.png", []byte("png")))
		}

		When("the API accepts the bill", func() {
			var sent bill.Bill

			BeforeEach(func() {
				api.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPatch, "/bills/1234"),
					ghttp.VerifyContentType("application/json"),
					func(w http.ResponseWriter, r *http.Request) {
						defer GinkgoRecover()
						Expect(json.NewDecoder(r.Body).Decode(&sent)).To(Succeed())
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, bill.Bill{ID: "1234"}),
				))
			})

			It("should send the draft and redirect to the bills list", func() {
				attach()
				p := postForm(browser, app.URL()+"/bills/new", form)
				Expect(p.status).To(Equal(http.StatusSeeOther))
				Expect(p.location).To(Equal("/bills"))

				Expect(sent.Email).To(Equal("employee@test.tld"))
				Expect(sent.Type).To(Equal("Transports"))
				Expect(sent.Amount).To(Equal(348))
				Expect(sent.Pct).To(Equal(bill.DefaultPct))
				Expect(sent.Status).To(Equal(bill.StatusPending))
				Expect(sent.FileURL).NotTo(BeNil())
				Expect(*sent.FileURL).To(Equal("https://test.storage.tld/test.png"))
				Expect(*sent.FileName).To(Equal("test.png"))
			})

			It("should start a new draft afterwards", func() {
				attach()
				postForm(browser, app.URL()+"/bills/new", form)
				p := get(browser, app.URL()+"/bills/new")
				Expect(p.body).To(ContainSubstring(`disabled>Envoyer`))
			})
		})

		When("the API rejects the bill", func() {
			BeforeEach(func() {
				api.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "boom"))
			})

			It("should still redirect to the bills list", func() {
				attach()
				p := postForm(browser, app.URL()+"/bills/new", form)
				Expect(p.status).To(Equal(http.StatusSeeOther))
				Expect(p.location).To(Equal("/bills"))
			})
		})

		When("the amount is not a number", func() {
			It("should return status Bad Request and keep the values", func() {
				attach()
				bad := url.Values{"amount": {"abc"}, "expense-name": {"Vol"}}
				p := postForm(browser, app.URL()+"/bills/new", bad)
				Expect(p.status).To(Equal(http.StatusBadRequest))
				Expect(p.body).To(ContainSubstring(`value="Vol"`))
				Expect(patches(api)).To(BeZero())
			})
		})

		When("no receipt was attached", func() {
			It("should refuse the form", func() {
				p := postForm(browser, app.URL()+"/bills/new", form)
				Expect(p.status).To(Equal(http.StatusBadRequest))
				Expect(p.body).To(ContainSubstring(`data-testid="form-error"`))
				Expect(p.body).To(ContainSubstring(`value="Vol Paris Londres"`))
				Expect(api.ReceivedRequests()).To(BeEmpty())
			})
		})

		When("a rejected receipt replaced a valid one", func() {
			It("should refuse the form and keep the draft unsent", func() {
				attach()
				p := fetch(browser, uploadRequest(app.URL()+"/bills/new/file", "test.txt", []byte("text")))
				Expect(p.body).To(ContainSubstring(`disabled>Envoyer`))

				p = postForm(browser, app.URL()+"/bills/new", form)
				Expect(p.status).To(Equal(http.StatusBadRequest))
				Expect(p.body).To(ContainSubstring(`data-testid="form-error"`))
				Expect(p.body).To(ContainSubstring(`disabled>Envoyer`))
				Expect(patches(api)).To(BeZero())
			})
		})

		When("the body is larger than the upload limit", func() {
			It("should return status Bad Request without reading it all", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				part, err := writer.CreateFormFile("file", "big.png")
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write(make([]byte, maxFormSize+1))
				Expect(err).NotTo(HaveOccurred())
				Expect(writer.Close()).To(Succeed())

				req := httptest.NewRequest(http.MethodPost, "/bills/new", body)
				req.Header.Set("Content-Type", writer.FormDataContentType())
				rec := httptest.NewRecorder()
				server.ServeHTTP(rec, req)

				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(rec.Body.String()).To(ContainSubstring("Error parsing form"))
			})
		})
	})

	Describe("idle sessions", func() {
		liveSessions := func() int {
			server.mu.Lock()
			defer server.mu.Unlock()
			return len(server.live)
		}

		sessionID := func(browser *http.Client) string {
			u, err := url.Parse(app.URL())
			Expect(err).NotTo(HaveOccurred())
			cookies := browser.Jar.Cookies(u)
			Expect(cookies).To(HaveLen(1))
			return cookies[0].Value
		}

		BeforeEach(func() {
			config.SessionTTL = time.Minute
		})

		It("should evict sessions idle past the TTL", func() {
			for i := 0; i < 5; i++ {
				get(newBrowser(), app.URL()+"/bills/new")
			}
			Expect(liveSessions()).To(Equal(5))

			Expect(server.sweep(time.Now().Add(2 * time.Minute))).To(Equal(5))
			Expect(liveSessions()).To(BeZero())
			Expect(server.sessions.IDs()).To(BeEmpty())
		})

		It("should keep recent sessions", func() {
			get(browser, app.URL()+"/bills/new")
			Expect(server.sweep(time.Now())).To(BeZero())
			Expect(liveSessions()).To(Equal(1))
		})

		It("should start a new session for an evicted cookie", func() {
			get(browser, app.URL()+"/bills/new")
			first := sessionID(browser)

			server.sweep(time.Now().Add(2 * time.Minute))
			get(browser, app.URL()+"/bills/new")
			Expect(sessionID(browser)).NotTo(Equal(first))
		})

		It("should not adopt a session id it never handed out", func() {
			u, err := url.Parse(app.URL())
			Expect(err).NotTo(HaveOccurred())
			forged := uuid.NewString()
			browser.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookie, Value: forged, Path: "/"}})

			get(browser, app.URL()+"/bills/new")
			Expect(sessionID(browser)).NotTo(Equal(forged))
		})
	})

	Describe("session user", func() {
		var logs *gbytes.Buffer

		BeforeEach(func() {
			config.DefaultEmail = ""
			logs = gbytes.NewBuffer()
			previous := slog.Default()
			slog.SetDefault(slog.New(slog.NewTextHandler(logs, nil)))
			DeferCleanup(func() {
				slog.SetDefault(previous)
			})
		})

		It("should warn when no email is known", func() {
			get(browser, app.URL()+"/bills/new")
			Expect(logs).To(gbytes.Say("level=WARN"))
			Expect(logs).To(gbytes.Say("Session user has no email"))
		})

		When("the basic auth user is an email", func() {
			BeforeEach(func() {
				config.BasicAuth = BasicAuth{Username: "employee@test.tld", Password: "secret"}
			})

			It("should use it without warning", func() {
				req, err := http.NewRequest(http.MethodGet, app.URL()+"/bills/new", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("employee@test.tld", "secret")
				Expect(fetch(browser, req).status).To(Equal(http.StatusOK))
				Expect(string(logs.Contents())).NotTo(ContainSubstring("no email"))
			})
		})
	})
})
