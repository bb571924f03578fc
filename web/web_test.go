package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bondmcsteve/artificial-intelligence/img"
	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"github.com/gorilla/websocket"
)

// blank images and bright disks of varying radius
func testData(t *testing.T, name string, n int) *img.Data {
	labels := make([]int32, n)
	pix := make([]uint8, n*28*28)
	for i := range labels {
		labels[i] = int32(i % 2)
		if labels[i] == 0 {
			continue
		}
		r := 5 + i%4
		for y := 0; y < 28; y++ {
			for x := 0; x < 28; x++ {
				if (x-14)*(x-14)+(y-14)*(y-14) <= r*r {
					pix[i*28*28+y*28+x] = 255
				}
			}
		}
	}
	d, err := img.NewData(name, []string{"blank", "disk"}, labels, 28, 28, pix)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func testNetwork(t *testing.T) *Network {
	conf, err := nnet.DefaultConfig("test", nnet.MLP, 2)
	if err != nil {
		t.Fatal(err)
	}
	conf.MaxEpoch, conf.TrainBatch, conf.TestBatch, conf.RandSeed = 2, 10, 10, 1
	net, err := NewNetwork(conf, testData(t, "train", 80), testData(t, "test", 20))
	if err != nil {
		t.Fatal(err)
	}
	return net
}

func testRouter(t *testing.T, net *Network, opts Options) http.Handler {
	r, err := NewRouter(net, opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func get(h http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func postForm(h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// white canvas with a black disk drawn in the centre as PNG
func drawing(t *testing.T) []byte {
	m := image.NewRGBA(image.Rect(0, 0, 280, 280))
	for y := 0; y < 280; y++ {
		for x := 0; x < 280; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if (x-140)*(x-140)+(y-140)*(y-140) <= 70*70 {
				c = color.RGBA{0, 0, 0, 255}
			}
			m.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func dataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func postFile(h http.Handler, data []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "disk.png")
	fw.Write(data)
	mw.Close()
	req := httptest.NewRequest("POST", "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) Result {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("predict: status %d: %s", w.Code, w.Body)
	}
	var res Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestPages(t *testing.T) {
	h := testRouter(t, testNetwork(t), DefaultOptions())
	for _, path := range []string{"/predict", "/train", "/stats", "/config", "/images/all/train/1", "/images/all/test/2", "/images/errors/test/1"} {
		w := get(h, path)
		if w.Code != http.StatusOK {
			t.Errorf("%s: got status %d", path, w.Code)
		}
		if !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
			t.Errorf("%s: got content type %q", path, w.Header().Get("Content-Type"))
		}
	}
	for path, status := range map[string]int{
		"/":                   http.StatusFound,
		"/images":             http.StatusFound,
		"/images/all/valid/1": http.StatusNotFound,
		"/plot/other.svg":     http.StatusNotFound,
		"/train/continue":     http.StatusNotFound,
	} {
		if w := get(h, path); w.Code != status {
			t.Errorf("%s: got status %d expecting %d", path, w.Code, status)
		}
	}
}

func TestPredictErrors(t *testing.T) {
	h := testRouter(t, testNetwork(t), DefaultOptions())
	w := postForm(h, "/predict", url.Values{"image": {dataURL(drawing(t))}})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("before training: got status %d", w.Code)
	}
	for _, form := range []url.Values{
		{"image": {"data:text/plain;base64,aGVsbG8="}},
		{"image": {"data:image/png;base64,!!!"}},
		{"other": {"x"}},
	} {
		w := postForm(h, "/predict", form)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%v: got status %d", form, w.Code)
		}
		var res map[string]string
		if err := json.NewDecoder(w.Body).Decode(&res); err != nil || res["error"] == "" {
			t.Errorf("%v: expecting JSON error: %v", form, err)
		}
	}
	if w := postFile(h, []byte("not an image")); w.Code != http.StatusBadRequest {
		t.Errorf("bad upload: got status %d", w.Code)
	}
}

func TestTrainAndPredict(t *testing.T) {
	net := testNetwork(t)
	h := testRouter(t, net, DefaultOptions())
	if w := get(h, "/train/start"); w.Code != http.StatusFound {
		t.Fatalf("start: got status %d", w.Code)
	}
	net.Wait()
	net.Lock()
	if net.Running() || net.Score == nil || len(net.Stats) != 2 || len(net.Pred) != net.Test.Len() {
		t.Fatalf("training run incomplete: running=%v score=%v epochs=%d", net.Running(), net.Score, len(net.Stats))
	}
	t.Logf("test score %+v", *net.Score)
	net.Unlock()

	data := drawing(t)
	drawn := decodeResult(t, postForm(h, "/predict", url.Values{"image": {dataURL(data)}}))
	uploaded := decodeResult(t, postFile(h, data))
	t.Logf("drawn: %+v", drawn)
	if len(drawn.Probs) != 2 || len(drawn.Classes) != 2 || drawn.Epoch != 2 {
		t.Errorf("unexpected result %+v", drawn)
	}
	if drawn.Label != drawn.Classes[drawn.Class] || drawn.Confidence != drawn.Probs[drawn.Class] {
		t.Errorf("label or confidence mismatch %+v", drawn)
	}
	for i := range drawn.Probs {
		if drawn.Probs[i] != uploaded.Probs[i] {
			t.Errorf("drawing %v and upload %v differ", drawn.Probs, uploaded.Probs)
			break
		}
	}

	for _, name := range []string{"loss", "accuracy"} {
		w := get(h, "/plot/"+name+".svg")
		if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/svg+xml" || !strings.Contains(w.Body.String(), "<svg") {
			t.Errorf("%s plot: got status %d", name, w.Code)
		}
	}
	w := get(h, "/grid/all/test/1")
	if w.Code != http.StatusOK {
		t.Fatalf("grid: got status %d", w.Code)
	}
	if _, err := png.Decode(w.Body); err != nil {
		t.Error("grid:", err)
	}
	if w := get(h, "/stats"); !strings.Contains(w.Body.String(), "Test accuracy") {
		t.Error("stats page missing test score")
	}
}

func TestConfigSave(t *testing.T) {
	net := testNetwork(t)
	h := testRouter(t, net, DefaultOptions())
	form := url.Values{}
	for _, f := range getFields(net.Conf) {
		form.Set(f.Name, f.Value)
	}
	form.Set("MaxEpoch", "3")
	w := postForm(h, "/config/save", form)
	if w.Code != http.StatusFound {
		t.Fatalf("save: got status %d", w.Code)
	}
	if net.Conf.MaxEpoch != 3 {
		t.Errorf("MaxEpoch not updated: %d", net.Conf.MaxEpoch)
	}
	page := get(h, "/config", w.Result().Cookies()...)
	if !strings.Contains(page.Body.String(), "config saved") {
		t.Error("missing flash message")
	}

	form.Set("MaxEpoch", "many")
	w = postForm(h, "/config/save", form)
	page = get(h, "/config", w.Result().Cookies()...)
	if net.Conf.MaxEpoch != 3 || !strings.Contains(page.Body.String(), "invalid fields") {
		t.Error("invalid field was not rejected")
	}

	form.Set("MaxEpoch", "3")
	form.Set("Topology", "cnn")
	postForm(h, "/config/save", form)
	layers, _ := nnet.CNN.Layers(2)
	if net.Conf.Topology != "cnn" || len(net.Conf.Layers) != len(layers) {
		t.Errorf("topology not updated: %s with %d layers", net.Conf.Topology, len(net.Conf.Layers))
	}
}

func TestAuth(t *testing.T) {
	opts := DefaultOptions()
	opts.User, opts.Password = "user", "secret"
	h := testRouter(t, testNetwork(t), opts)
	if w := get(h, "/predict"); w.Code != http.StatusUnauthorized {
		t.Errorf("no login: got status %d", w.Code)
	}
	req := httptest.NewRequest("GET", "/predict", nil)
	req.SetBasicAuth("user", "wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password: got status %d", w.Code)
	}
	req = httptest.NewRequest("GET", "/predict", nil)
	req.SetBasicAuth("user", "secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login: got status %d", w.Code)
	}
	var auth *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			auth = c
		}
	}
	if auth == nil {
		t.Fatal("no auth cookie set")
	}
	if w := get(h, "/config", auth); w.Code != http.StatusOK {
		t.Errorf("with cookie: got status %d", w.Code)
	}
	if auth.Secure || !auth.HttpOnly {
		t.Errorf("unexpected cookie flags %+v", auth)
	}
	bad := &http.Cookie{Name: cookieName, Value: auth.Value + "x"}
	if w := get(h, "/config", bad); w.Code != http.StatusUnauthorized {
		t.Errorf("modified cookie: got status %d", w.Code)
	}

	req = httptest.NewRequest("GET", "https://example.com/predict", nil)
	req.SetBasicAuth("user", "secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	cookies := w.Result().Cookies()
	if w.Code != http.StatusOK || len(cookies) == 0 || !cookies[0].Secure {
		t.Errorf("https login: got status %d cookies %v", w.Code, cookies)
	}
}

func waitConns(t *testing.T, net *Network, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		net.Lock()
		count := len(net.conns)
		net.Unlock()
		if count == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("have %d websocket clients expecting %d", count, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebsocketClose(t *testing.T) {
	net := testNetwork(t)
	srv := httptest.NewServer(testRouter(t, net, DefaultOptions()))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	var clients []*websocket.Conn
	for i := 0; i < 2; i++ {
		c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatal(err)
		}
		clients = append(clients, c)
	}
	waitConns(t, net, 2)
	clients[0].WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	clients[0].Close()
	waitConns(t, net, 1)
	clients[1].Close()
	waitConns(t, net, 0)
}
