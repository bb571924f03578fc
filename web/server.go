package web

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Options for the web server
type Options struct {
	Scale    int
	Rows     int
	Cols     int
	User     string
	Password string
}

// DefaultOptions shows 8 rows of 10 images at 3x scale with no login
func DefaultOptions() Options {
	return Options{Scale: 3, Rows: 8, Cols: 10}
}

// NewRouter sets up the handlers for each page. If a password is set then basic
// authentication is required.
func NewRouter(net *Network, opts Options) (*mux.Router, error) {
	t, err := NewTemplates()
	if err != nil {
		return nil, err
	}
	predictPage := NewPredictPage(t.Clone(), net)
	trainPage := NewTrainPage(t.Clone(), net)
	imagePage := NewImagePage(t.Clone(), net, opts.Scale, opts.Rows, opts.Cols)
	configPage := NewConfigPage(t.Clone(), net)

	r := mux.NewRouter()
	r.Handle("/", http.RedirectHandler("/predict", http.StatusFound))

	r.HandleFunc("/predict", predictPage.Base()).Methods("GET")
	r.HandleFunc("/predict", predictPage.Predict()).Methods("POST")

	r.HandleFunc("/train", trainPage.Base())
	r.HandleFunc("/train/{cmd:(?:start|stop)}", trainPage.Base())
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/plot/{name}.svg", trainPage.Plot())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.Handle("/images", http.RedirectHandler("/images/all/train/1", http.StatusFound))
	r.HandleFunc("/images/{inc:(?:all|errors)}/{dset}/{page:[0-9]+}", imagePage.Base())
	r.HandleFunc("/grid/{inc:(?:all|errors)}/{dset}/{page:[0-9]+}", imagePage.Grid())

	r.HandleFunc("/config", configPage.Base())
	r.HandleFunc("/config/save", configPage.Save()).Methods("POST")
	r.HandleFunc("/config/reset", configPage.Reset())

	if opts.Password != "" {
		r.Use(NewAuthMiddleware(opts.User, opts.Password).Middleware)
	}
	return r, nil
}
