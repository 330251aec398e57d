package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/maskdetect/internal/usecase"
	"github.com/example/maskdetect/internal/vision"
)

type stubLocator struct{ faces []vision.FaceBox }

func (s stubLocator) Locate(context.Context, image.Image) ([]vision.FaceBox, error) {
	return s.faces, nil
}

type stubClassifier struct{ score float32 }

func (s stubClassifier) Score(_ context.Context, img image.Image) (float32, error) {
	if err := vision.CheckInput(img); err != nil {
		return 0, err
	}
	return s.score, nil
}

func newTestRouter(t *testing.T, faces []vision.FaceBox, score float32, maxUpload int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	uc := usecase.NewDetectionUseCase(stubLocator{faces: faces}, stubClassifier{score: score}, nil, nil, zap.NewNop(), usecase.Options{})
	router := gin.New()
	RegisterRoutes(router, uc, Options{MaxUploadSize: maxUpload, Logger: zap.NewNop()})
	return router
}

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 120, G: 130, B: 140, A: 255}}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func postDetect(t *testing.T, router *gin.Engine, field string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := buildMultipartBody(t, field, "image/jpeg", payload)
	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json body %q: %v", resp.Body.String(), err)
	}
	return out
}

func assertErrorEnvelope(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	body := decodeBody(t, resp)
	if len(body) != 1 {
		t.Fatalf("expected only an error key, got %s", resp.Body.String())
	}
	var msg string
	if err := json.Unmarshal(body["error"], &msg); err != nil || msg == "" {
		t.Fatalf("expected non-empty error string, got %s", resp.Body.String())
	}
	return msg
}

func TestDetectSolidImageHasNoFaces(t *testing.T) {
	router := newTestRouter(t, nil, 0.3, 0)

	resp := postDetect(t, router, "image", solidJPEG(t, 100, 100))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header *, got %q", got)
	}
	var result struct {
		Faces      []vision.FaceBox `json:"faces"`
		MaskStatus string           `json:"mask_status"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if result.Faces == nil || len(result.Faces) != 0 {
		t.Fatalf("expected empty faces list, got %s", resp.Body.String())
	}
	if result.MaskStatus != "Mask" && result.MaskStatus != "No Mask" {
		t.Fatalf("unexpected mask_status %q", result.MaskStatus)
	}
}

func TestDetectListsAllFaces(t *testing.T) {
	faces := []vision.FaceBox{{X: 10, Y: 10, W: 40, H: 40}, {X: 50, Y: 50, W: 30, H: 30}}
	router := newTestRouter(t, faces, 0.8, 0)

	resp := postDetect(t, router, "image", solidJPEG(t, 100, 100))

	want := `{"faces":[{"x":10,"y":10,"w":40,"h":40},{"x":50,"y":50,"w":30,"h":30}],"mask_status":"No Mask"}`
	if resp.Body.String() != want {
		t.Fatalf("expected %s, got %s", want, resp.Body.String())
	}
}

func TestDetectIsIdempotent(t *testing.T) {
	router := newTestRouter(t, []vision.FaceBox{{X: 1, Y: 2, W: 30, H: 40}}, 0.5, 0)
	payload := solidJPEG(t, 64, 48)

	first := postDetect(t, router, "image", payload)
	second := postDetect(t, router, "image", payload)

	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("expected identical responses, got %s and %s", first.Body.String(), second.Body.String())
	}
}

func TestDetectMalformedUploads(t *testing.T) {
	router := newTestRouter(t, nil, 0.1, 0)

	tests := []struct {
		name    string
		field   string
		payload []byte
	}{
		{name: "not an image", field: "image", payload: []byte("not an image")},
		{name: "empty bytes", field: "image", payload: []byte{}},
		{name: "missing field", field: "file", payload: solidJPEG(t, 10, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertErrorEnvelope(t, postDetect(t, router, tt.field, tt.payload))
		})
	}
}

func TestDetectRejectsNonMultipartBody(t *testing.T) {
	router := newTestRouter(t, nil, 0.1, 0)

	req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assertErrorEnvelope(t, resp)
}

func TestDetectRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t, nil, 0.1, 1024)

	resp := postDetect(t, router, "image", bytes.Repeat([]byte("a"), 1025))

	if msg := assertErrorEnvelope(t, resp); !strings.Contains(msg, "exceeds") {
		t.Fatalf("expected size error, got %q", msg)
	}
}

func TestPreflightAllowsAnyOrigin(t *testing.T) {
	router := newTestRouter(t, nil, 0.1, 0)

	req := httptest.NewRequest(http.MethodOptions, "/detect", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header *, got %q", got)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil, 0.1, 0)
	postDetect(t, router, "image", solidJPEG(t, 20, 20))
	postDetect(t, router, "image", []byte("junk"))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var summary usecase.StatsSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if summary.TotalRequests != 2 || summary.FailedRequests != 1 || summary.MaskCount != 1 {
		t.Fatalf("unexpected stats: %+v", summary)
	}
}

func TestStreamAnswersEachFrame(t *testing.T) {
	router := newTestRouter(t, []vision.FaceBox{{X: 5, Y: 5, W: 20, H: 20}}, 0.9, 0)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, solidJPEG(t, 50, 50)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	var result map[string]any
	if err := conn.ReadJSON(&result); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if result["mask_status"] != "No Mask" {
		t.Fatalf("unexpected reply: %v", result)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	var failure map[string]any
	if err := conn.ReadJSON(&failure); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if msg, _ := failure["error"].(string); msg == "" {
		t.Fatalf("expected error reply, got %v", failure)
	}
}

func buildMultipartBody(t *testing.T, field, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="frame.jpg"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
