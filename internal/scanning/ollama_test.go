package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		scanner, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	When("the model answers with JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				func(w http.ResponseWriter, r *http.Request) {
					defer GinkgoRecover()
					var req ollamaChatRequest
					Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
					Expect(req.Model).To(Equal("llava"))
					Expect(req.Format).To(Equal("json"))
					Expect(req.Messages[len(req.Messages)-1].Images).To(HaveLen(1))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: `{"name": "Air France", "type": "Transports", "date": "2023-03-02", "amount": 348}`},
					Done:    true,
				}),
			))
		})

		It("should return the suggestion", func() {
			s, err := scanner.ScanReceipt(context.Background(), []byte("png bytes"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Name).To(Equal("Air France"))
			Expect(s.Type).To(Equal("Transports"))
			Expect(s.Amount).To(Equal(348))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("should return the status and body", func() {
			_, err := scanner.ScanReceipt(context.Background(), []byte("png bytes"), "image/png")
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})

	When("the receipt is not an image type the form accepts", func() {
		It("should fail before calling the API", func() {
			_, err := scanner.ScanReceipt(context.Background(), []byte("%PDF"), "application/pdf")
			Expect(err).To(MatchError(ContainSubstring("unsupported receipt type")))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("prepareImageData", func() {
	It("should pass PNG through", func() {
		data, converted, err := prepareImageData([]byte("png"), "IMAGE/PNG ")
		Expect(err).NotTo(HaveOccurred())
		Expect(converted).To(BeFalse())
		Expect(data).To(Equal([]byte("png")))
	})

	It("should convert JPEG to PNG", func() {
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		img.Set(0, 0, color.White)
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())

		data, converted, err := prepareImageData(buf.Bytes(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		Expect(converted).To(BeTrue())
		Expect(data[:8]).To(Equal([]byte("\x89PNG\r\n\x1a\n")))
	})

	It("should fail on undecodable JPEG", func() {
		_, _, err := prepareImageData([]byte("nope"), "image/jpeg")
		Expect(err).To(HaveOccurred())
	})
})
